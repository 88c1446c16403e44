package config

// LoadFromEnv reads the process environment. Builds tagged dev also pick up a local .env file first.
func LoadFromEnv() (Config, error) {
	if err := loadDotEnv(); err != nil {
		return Config{}, err
	}
	return Load(FromEnviron())
}
