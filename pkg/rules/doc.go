// Package rules loads the ordered list of interception rules.
//
// A rule file is a JSON or YAML list. Each entry names an HTTP method, a regular
// expression searched for anywhere in the request URL, an enabled flag, and the
// path of the mock response to serve:
//
//	[
//	  {
//	    "method": "GET",
//	    "urlRegex": "/users/\\d+",
//	    "enabled": true,
//	    "mockResponsePath": "mocks/user.json"
//	  }
//	]
//
// Rule order is significant: the first enabled rule that matches a request wins.
//
// A rule file is read once per process. Wrap the read in a Loader and share it:
//
//	loader := rules.NewLoader(rules.FileSource("matcher.json"))
//	set, err := loader.RuleSet() // reads the file
//	set, err = loader.RuleSet()  // cached
//
// Any problem with the file (missing, unreadable, bad syntax, a field of the wrong
// type, a regular expression that does not compile) fails the whole load with a
// *ConfigLoadError. The error is cached along with the result: there is no retry.
package rules
