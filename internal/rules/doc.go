// Package rules compiles the JSON routing rules resource into Rules.
//
// A rules document is an object keyed by URL pattern. Keys are regular
// expressions matched against the full request URI and their order in
// the document is the match priority:
//
//	{
//	  "^/api/users/(.*)$": {
//	    "url": "http://users.${env}.internal:8080/v1/$1",
//	    "methods": ["GET"],
//	    "timeout": 5,
//	    "profile": ["mail"],
//	    "translateStatus": {"502": "503"},
//	    "staticHeaders": {"x-source": "proxy"}
//	  },
//	  "^/blackhole": {}
//	}
//
// Compilation is all or nothing. Any error is a *util.ConfigError that
// names the offending pattern.
package rules
