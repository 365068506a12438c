package wire

var SkipRace = skipRace
