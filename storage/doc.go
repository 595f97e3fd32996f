package storage

// storage contains the KeyValue interface for working with a persistent key/
// value table, as well as an implementation backed by an embedded SQLite
// store file. Keys are strings or numbers coerced to strings. Values are
// stored as JSON text, so anything encoding/json can marshal can be stored,
// and the package never interprets what is stored beyond checking that it is
// valid JSON.
