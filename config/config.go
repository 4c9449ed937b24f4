package config

import (
	"fmt"
	"log"

	"github.com/spf13/viper"
)

// AppConfig holds the application-level configuration
type AppConfig struct {
	Port            int    `mapstructure:"port"`
	DataPath        string `mapstructure:"data_path"`
	StagingPath     string `mapstructure:"staging_path"`
	ArtifactsPath   string `mapstructure:"artifacts_path"`
	CodeLength      int    `mapstructure:"code_length"`
	CompressStaging bool   `mapstructure:"compress_staging"`
}

var Config *AppConfig

func LoadConfig(path string) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(path)
	viper.AutomaticEnv()

	viper.SetDefault("port", 8080)
	viper.SetDefault("data_path", "./data/sessions")
	viper.SetDefault("staging_path", "./data/staging")
	viper.SetDefault("artifacts_path", "./data/artifacts")
	viper.SetDefault("code_length", 8)
	viper.SetDefault("compress_staging", true)

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("⚠️ Could not read config file, using defaults: %v", err)
	}

	var appConfig AppConfig
	if err := viper.Unmarshal(&appConfig); err != nil {
		log.Fatalf("❌ Unable to decode config into struct: %v", err)
	}

	Config = &appConfig

	fmt.Println("✅ Configuration loaded successfully.")
}
