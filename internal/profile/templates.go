package profile

// Built-in templates for common roster export formats. Users start from
// one of these and customize rules per airline; customized profiles are
// stored by the Store and shadow the template of the same name.

// builtinTemplates maps template name to profile.
var builtinTemplates = map[string]ImportProfile{
	"generic": {
		// Summary form: "UJ465 LRD-CUU".
		Name: "generic",
		Rules: map[string]ParsingRule{
			FieldFlightNumber: {Source: SourceSummary, Method: MethodRegex, Param: `^([A-Z]{2}\d+)`},
			FieldDeparture:    {Source: SourceSummary, Method: MethodRegex, Param: `([A-Z]{3})-`},
			FieldArrival:      {Source: SourceSummary, Method: MethodRegex, Param: `-([A-Z]{3})`},
		},
	},
	"crewportal": {
		// Summary form: "FLT 465 | KLRD-KCUU", description carries the
		// pairing and aircraft on fixed lines.
		Name: "crewportal",
		Rules: map[string]ParsingRule{
			FieldFlightNumber: {Source: SourceSummary, Method: MethodRegex, Param: `FLT\s*(\d+)`},
			FieldDeparture:    {Source: SourceSummary, Method: MethodRegex, Param: `([A-Z]{3,4})-`},
			FieldArrival:      {Source: SourceSummary, Method: MethodRegex, Param: `-([A-Z]{3,4})`},
			FieldTripNumber:   {Source: SourceDescription, Method: MethodRegex, Param: `Pairing:\s*(\S+)`},
			FieldAircraft:     {Source: SourceDescription, Method: MethodMultiline, Param: "1"},
			FieldRole:         {Source: SourceDescription, Method: MethodRegex, Param: `Role:\s*([A-Z]+)`, Fallback: "PIC"},
		},
	},
	"aims": {
		// AIMS-style export: "465 LRD CUU 2230 2359" in the summary and
		// a "dep - arr" location field.
		Name: "aims",
		Rules: map[string]ParsingRule{
			FieldFlightNumber: {Source: SourceSummary, Method: MethodRegex, Param: `^(\d+)\b`},
			FieldDeparture:    {Source: SourceLocation, Method: MethodSplit, Param: " - "},
			FieldArrival:      {Source: SourceLocation, Method: MethodRegex, Param: `- ([A-Z]{3})\s*$`},
			FieldScheduledOut: {Source: SourceSummary, Method: MethodRegex, Param: `\b(\d{4})\b`},
			FieldCheckIn:      {Source: SourceDescription, Method: MethodRegex, Param: `C/I\s*(\d{4})`},
			FieldCheckOut:     {Source: SourceDescription, Method: MethodRegex, Param: `C/O\s*(\d{4})`},
		},
	},
}

// Builtin returns the built-in template with the given name.
func Builtin(name string) (ImportProfile, bool) {
	p, ok := builtinTemplates[name]
	return p, ok
}

// BuiltinNames lists available template names.
func BuiltinNames() []string {
	names := make([]string, 0, len(builtinTemplates))
	for name := range builtinTemplates {
		names = append(names, name)
	}
	return names
}
