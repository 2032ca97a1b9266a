package race

// Exposes unexported helpers to the external race_test package.
const Selector = selector

var Scan = scan
