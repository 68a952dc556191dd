// Package profile stores named connection profiles in SQLite.
//
// A profile is a controller URL plus the ordered list of variables to
// monitor on it. At most one profile is active; the active profile decides
// what the link manager connects to and subscribes at startup.
//
// ParseLegacy and ImportLegacy read the older plc_config.json layout:
//
//	{"url": "opc.tcp://10.0.0.5:4840", "variables": [[4, "SinalPython"], [4, "Trigger"]]}
package profile
