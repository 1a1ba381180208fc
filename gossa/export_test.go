package gossa

var SitesNarrowed = sitesNarrowed
