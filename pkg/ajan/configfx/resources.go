package configfx

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// FromEnvFileDirect parses KEY=VALUE lines (the format written by a `.env`
// file) directly from memory, without touching the filesystem. Lines
// starting with '#' and blank lines are skipped; values may be wrapped in
// single or double quotes.
func (cl *ConfigManager) FromEnvFileDirect(lines []string, overload bool) ConfigResource {
	return func(target *map[string]any) error {
		for _, line := range lines {
			key, value, ok := parseEnvLine(line)
			if !ok {
				continue
			}

			setResourceKey(*target, key, value, overload)
		}

		return nil
	}
}

// FromEnvFile reads a `.env`-style file from disk. A missing file is not an
// error: env files are optional overlays, like the other LoadDefaults
// sources.
func (cl *ConfigManager) FromEnvFile(filePath string, overload bool) ConfigResource {
	return func(target *map[string]any) error {
		file, err := os.Open(filePath)
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}

			return fmt.Errorf("failed to open env file %q: %w", filePath, err)
		}
		defer file.Close()

		lines := make([]string, 0)

		scanner := bufio.NewScanner(file)
		for scanner.Scan() {
			lines = append(lines, scanner.Text())
		}

		if err := scanner.Err(); err != nil {
			return fmt.Errorf("failed to read env file %q: %w", filePath, err)
		}

		return cl.FromEnvFileDirect(lines, overload)(target)
	}
}

// FromSystemEnv reads the process environment (os.Environ).
func (cl *ConfigManager) FromSystemEnv(overload bool) ConfigResource {
	return func(target *map[string]any) error {
		return cl.FromEnvFileDirect(os.Environ(), overload)(target)
	}
}

// FromJSONFileDirect decodes a JSON document already held in memory.
func (cl *ConfigManager) FromJSONFileDirect(data []byte) ConfigResource {
	return func(target *map[string]any) error {
		var parsed map[string]any

		if err := json.Unmarshal(data, &parsed); err != nil {
			return fmt.Errorf("failed to parse json config: %w", err)
		}

		flatten("", parsed, *target)

		return nil
	}
}

// FromJSONFile reads a JSON config file from disk. A missing file is not an
// error, matching LoadDefaults' best-effort "config.json" lookup.
func (cl *ConfigManager) FromJSONFile(filePath string) ConfigResource {
	return func(target *map[string]any) error {
		data, err := os.ReadFile(filePath)
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}

			return fmt.Errorf("failed to read json config %q: %w", filePath, err)
		}

		return cl.FromJSONFileDirect(data)(target)
	}
}

// FromTOMLFileDirect decodes a TOML document already held in memory.
func (cl *ConfigManager) FromTOMLFileDirect(data []byte) ConfigResource {
	return func(target *map[string]any) error {
		var parsed map[string]any

		if _, err := toml.NewDecoder(bytes.NewReader(data)).Decode(&parsed); err != nil {
			return fmt.Errorf("failed to parse toml config: %w", err)
		}

		flatten("", parsed, *target)

		return nil
	}
}

// FromTOMLFile reads a TOML config file from disk (e.g. daemonkit.toml). A
// missing file is not an error.
func (cl *ConfigManager) FromTOMLFile(filePath string) ConfigResource {
	return func(target *map[string]any) error {
		data, err := os.ReadFile(filePath)
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}

			return fmt.Errorf("failed to read toml config %q: %w", filePath, err)
		}

		return cl.FromTOMLFileDirect(data)(target)
	}
}

// flatten turns a nested JSON/TOML document into the same Separator-joined
// key shape reflectSet expects from env vars (e.g. POOL__WORKERS__0__NAME).
func flatten(prefix string, src map[string]any, dest map[string]any) {
	for key, value := range src {
		flatKey := strings.ToUpper(key)
		if prefix != "" {
			flatKey = prefix + Separator + flatKey
		}

		switch typed := value.(type) {
		case map[string]any:
			flatten(flatKey, typed, dest)
		case []any:
			for i, elem := range typed {
				idxKey := flatKey + Separator + strconv.Itoa(i)

				if nested, ok := elem.(map[string]any); ok {
					flatten(idxKey, nested, dest)
				} else {
					dest[idxKey] = stringify(elem)
				}
			}
		default:
			dest[flatKey] = stringify(value)
		}
	}
}

func stringify(value any) string {
	switch typed := value.(type) {
	case string:
		return typed
	case bool:
		return strconv.FormatBool(typed)
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(typed, 10)
	default:
		return fmt.Sprintf("%v", typed)
	}
}

func parseEnvLine(line string) (string, string, bool) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || strings.HasPrefix(trimmed, "#") {
		return "", "", false
	}

	key, value, found := strings.Cut(trimmed, "=")
	if !found {
		return "", "", false
	}

	key = strings.TrimSpace(key)
	value = strings.TrimSpace(value)

	if len(value) >= 2 { //nolint:mnd
		if (value[0] == '"' && value[len(value)-1] == '"') ||
			(value[0] == '\'' && value[len(value)-1] == '\'') {
			value = value[1 : len(value)-1]
		}
	}

	return key, value, true
}

func setResourceKey(target map[string]any, key, value string, overload bool) {
	if !overload {
		if _, exists := target[key]; exists {
			return
		}
	}

	target[key] = value
}
