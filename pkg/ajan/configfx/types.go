package configfx

import "reflect"

const (
	TagConf     = "conf"
	TagDefault  = "default"
	TagRequired = "required"

	Separator = "__"
)

// ConfigItemMeta describes a single field in a config struct tree, built by
// reflecting over `conf`/`default`/`required` struct tags.
type ConfigItemMeta struct {
	Name            string
	Field           reflect.Value
	Type            reflect.Type
	IsRequired      bool
	HasDefaultValue bool
	DefaultValue    string

	Children []ConfigItemMeta
}

// ConfigResource populates target with raw string values from a single
// source (a JSON file, an env file, the process environment, ...). Keys are
// flattened with Separator for nested maps/slices/structs.
type ConfigResource func(target *map[string]any) error

type ConfigLoader interface {
	LoadMeta(i any) (ConfigItemMeta, error)
	LoadMap(resources ...ConfigResource) (*map[string]any, error)
	Load(i any, resources ...ConfigResource) error
	LoadDefaults(i any) error

	FromEnvFileDirect(lines []string, overload bool) ConfigResource
	FromEnvFile(filePath string, overload bool) ConfigResource
	FromSystemEnv(overload bool) ConfigResource
	FromJSONFileDirect(data []byte) ConfigResource
	FromJSONFile(filePath string) ConfigResource
	FromTOMLFileDirect(data []byte) ConfigResource
	FromTOMLFile(filePath string) ConfigResource
}
