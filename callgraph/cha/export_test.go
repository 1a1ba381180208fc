package cha

var ClinitEdges = clinitEdges
