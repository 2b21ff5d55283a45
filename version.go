package taskrunner

// Version is the library version reported by the threadrunner CLI.
const Version = "0.3.0"
