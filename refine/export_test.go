package refine

var PassesTotal = passesTotal
