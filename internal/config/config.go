// Package config charge la configuration de la console : fichier YAML
// optionnel puis surcharges par variables d'environnement.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"purifier-console/internal/events"
)

// EnvConfigPath désigne le fichier YAML à charger lorsqu'aucun chemin n'est fourni.
const EnvConfigPath = "CONSOLE_CONFIG"

// HTTP configure l'API de la console.
type HTTP struct {
	Port        string `yaml:"port"`
	MetricsPort string `yaml:"metricsPort"`
}

// Topics regroupe les noms de topics Kafka.
type Topics struct {
	Contracts string `yaml:"contracts"`
	Reminders string `yaml:"reminders"`
	Summaries string `yaml:"summaries"`
	Orders    string `yaml:"orders"`
	DLQ       string `yaml:"dlq"`
}

// Kafka configure la publication d'événements.
type Kafka struct {
	Enabled          bool   `yaml:"enabled"`
	BootstrapServers string `yaml:"bootstrapServers"`
	ClientID         string `yaml:"clientId"`
	GroupID          string `yaml:"groupId"`
	Topics           Topics `yaml:"topics"`
}

// Postgres configure le stockage durable ; un DSN vide active le stockage en mémoire.
type Postgres struct {
	DSN string `yaml:"dsn"`
}

// Redis configure le verrou de renouvellement ; une adresse vide active le verrou local.
type Redis struct {
	Addr    string        `yaml:"addr"`
	LockTTL time.Duration `yaml:"lockTTL"`
}

// Reminder configure la boucle de relance des contrats.
type Reminder struct {
	Interval time.Duration `yaml:"interval"`
	Horizon  int           `yaml:"horizonDays"`
}

// Logging désigne les fichiers de journalisation ("-" pour la sortie standard).
type Logging struct {
	AppLog   string `yaml:"appLog"`
	AuditLog string `yaml:"auditLog"`
}

// Config est la configuration complète.
type Config struct {
	HTTP     HTTP     `yaml:"http"`
	Kafka    Kafka    `yaml:"kafka"`
	Postgres Postgres `yaml:"postgres"`
	Redis    Redis    `yaml:"redis"`
	Reminder Reminder `yaml:"reminder"`
	Logging  Logging  `yaml:"logging"`
}

// Default renvoie la configuration par défaut.
func Default() Config {
	return Config{
		HTTP: HTTP{Port: "8080"},
		Kafka: Kafka{
			BootstrapServers: "localhost:9092",
			ClientID:         "purifier-console",
			GroupID:          "console-projector",
			Topics: Topics{
				Contracts: events.TopicContractEvents,
				Reminders: events.TopicContractReminders,
				Summaries: events.TopicCustomerSummaries,
				Orders:    events.TopicOrderEvents,
				DLQ:       events.TopicDLQ,
			},
		},
		Redis:    Redis{LockTTL: 10 * time.Second},
		Reminder: Reminder{Interval: time.Hour, Horizon: 30},
		Logging:  Logging{AppLog: "console.log", AuditLog: "console-audit.log"},
	}
}

// Load lit le fichier YAML (path, sinon $CONSOLE_CONFIG, sinon rien) puis
// applique les variables d'environnement.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("lecture de %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("décodage de %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv() error {
	c.HTTP.Port = getEnv("CONSOLE_HTTP_PORT", c.HTTP.Port)
	c.HTTP.MetricsPort = getEnv("METRICS_PORT", c.HTTP.MetricsPort)
	c.Kafka.BootstrapServers = getEnv("KAFKA_BOOTSTRAP_SERVERS", c.Kafka.BootstrapServers)
	c.Kafka.ClientID = getEnv("KAFKA_CLIENT_ID", c.Kafka.ClientID)
	c.Kafka.GroupID = getEnv("KAFKA_GROUP_ID", c.Kafka.GroupID)
	c.Postgres.DSN = getEnv("DB_URL", c.Postgres.DSN)
	c.Redis.Addr = getEnv("REDIS_ADDR", c.Redis.Addr)
	c.Logging.AppLog = getEnv("CONSOLE_APP_LOG", c.Logging.AppLog)
	c.Logging.AuditLog = getEnv("CONSOLE_AUDIT_LOG", c.Logging.AuditLog)

	if v := os.Getenv("KAFKA_ENABLED"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("KAFKA_ENABLED: %w", err)
		}
		c.Kafka.Enabled = enabled
	}
	if v := os.Getenv("REDIS_LOCK_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("REDIS_LOCK_TTL: %w", err)
		}
		c.Redis.LockTTL = d
	}
	if v := os.Getenv("REMINDER_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("REMINDER_INTERVAL: %w", err)
		}
		c.Reminder.Interval = d
	}
	if v := os.Getenv("REMINDER_HORIZON_DAYS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("REMINDER_HORIZON_DAYS: %w", err)
		}
		c.Reminder.Horizon = n
	}
	return nil
}

// Validate signale les valeurs obligatoires manquantes.
func (c Config) Validate() error {
	var missing []string
	if c.HTTP.Port == "" {
		missing = append(missing, "http.port")
	}
	if c.Kafka.Enabled {
		if c.Kafka.BootstrapServers == "" {
			missing = append(missing, "kafka.bootstrapServers")
		}
		if c.Kafka.Topics.Contracts == "" {
			missing = append(missing, "kafka.topics.contracts")
		}
		if c.Kafka.Topics.DLQ == "" {
			missing = append(missing, "kafka.topics.dlq")
		}
	}
	if c.Redis.LockTTL <= 0 {
		missing = append(missing, "redis.lockTTL")
	}
	if c.Reminder.Interval <= 0 {
		missing = append(missing, "reminder.interval")
	}
	if c.Reminder.Horizon < 0 {
		missing = append(missing, "reminder.horizonDays")
	}
	if len(missing) > 0 {
		return fmt.Errorf("configuration invalide: %s", strings.Join(missing, ", "))
	}
	return nil
}

// getEnv récupère une variable d'environnement ou retourne la valeur par défaut.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}
