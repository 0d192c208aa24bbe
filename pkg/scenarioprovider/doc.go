/*
Package scenarioprovider is the Scenario Provider (spec.md §4.11): it
parses the XML scenario database into Scenario trees, validates every
<run> tag's routing key against the live RPC Worker Host registry, and
serves lookups by id, by name, and by notify binding.

	Load                  parse and install the document; fatal on first load
	GetScenario           lookup by scenario uuid, returns a fresh Clone
	GetScenarioByName     lookup by (case-insensitive) name
	TaskIDByNotification  resolve a notify binding to a scenario uuid
	Watch                 hot-reload on file writes; a bad reload keeps
	                      the previous table and logs instead of aborting

Parsing is two-pass: xml.go's parseDocument decodes the raw tags and
resolves them into scenario.Node trees, validating duplicate uuids,
names, and notify bindings along the way; buildNode and buildLocker
mirror the source system's recursive tag-walking parser.
*/
package scenarioprovider
