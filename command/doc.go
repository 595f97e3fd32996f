package command

// command implements the tablekv command-line tool: it reads a config from
// a file, the environment, and flags, opens one table, and runs a single
// operation against it, writing results to an io.Writer.
