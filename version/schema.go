package version

// Schema identifies the XML schema used to validate a server plugin descriptor.
type Schema string

const (
	SchemaLegacy Schema = "teamcity-server-plugin-descriptor.xsd"
	Schema2018_2 Schema = "2018.2/teamcity-server-plugin-descriptor.xsd"
	Schema2020_1 Schema = "2020.1/teamcity-server-plugin-descriptor.xsd"
)

type versionedSchema struct {
	minimum Version
	schema  Schema
}

// newest first
var versionedSchemas = []versionedSchema{
	{minimum: V2020_1, schema: Schema2020_1},
	{minimum: V2018_2, schema: Schema2018_2},
}

// SchemaFor returns the newest schema supported by v, or the legacy schema when v
// predates every versioned one.
func SchemaFor(v Version) Schema {
	for _, candidate := range versionedSchemas {
		if v.AtLeast(candidate.minimum) {
			return candidate.schema
		}
	}
	return SchemaLegacy
}

// Schemas lists every known schema, oldest first.
func Schemas() []Schema {
	return []Schema{SchemaLegacy, Schema2018_2, Schema2020_1}
}

func (s Schema) String() string {
	return string(s)
}
