package e2e

// e2e contains integration tests that drive the tablekv command the way a
// user would: from a YAML config file rendered into a temporary directory,
// through command.Run, down to the store file on disk. Helpers that unit
// tests need live next to those tests, not here.
