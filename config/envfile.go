package config

import (
	"bufio"
	"os"
	"strings"
)

// loadEnvFile reads KEY=VALUE lines. Blank lines and # comments are skipped
// and a trailing # comment is stripped from values.
func loadEnvFile(path string) (map[string]string, error) {
	envVars := make(map[string]string)

	file, err := os.Open(path)
	if err != nil {
		return envVars, err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		if commentIndex := strings.Index(value, "#"); commentIndex != -1 {
			value = strings.TrimSpace(value[:commentIndex])
		}

		envVars[key] = value
	}

	return envVars, scanner.Err()
}
