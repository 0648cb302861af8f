package config

import (
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/mind-engage/examguard/internal/guard"
	"github.com/mind-engage/examguard/internal/timewindow"
)

type Mode string

const (
	ModeOffline Mode = "offline"
	ModeOnline  Mode = "online"
)

type Config struct {
	Mode     Mode   `validate:"oneof=offline online"`
	HTTPAddr string `validate:"required"`

	DBDriver string `validate:"oneof=sqlite postgres pq memory"`
	DBDSN    string

	AuthHMACSecret string `validate:"required,min=8"`
	AdminUser      string `validate:"required"`
	AdminPassHash  string `validate:"required"` // bcrypt

	CORSOrigins []string

	ExamDurationMinutes  int `validate:"gt=0"`
	TimeBufferMinutes    int `validate:"gte=0"`
	BulkExtensionEnabled bool
	GuardEnabled         bool
	GradeableRoles       []string `validate:"min=1,dive,required"`
}

const defaultAdminHash = "$2y$12$pyZAiWaTfVtM7UElIRStvOC3gNbnp70nmQU4eYopLGBfCJr1DOvji"

var validate = validator.New()

func defaults(v *viper.Viper) {
	v.SetDefault("MODE", string(ModeOffline))
	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("DB_DRIVER", "sqlite")
	v.SetDefault("DB_DSN", "")
	v.SetDefault("AUTH_HMAC_SECRET", "dev-secret-change-me")
	v.SetDefault("ADMIN_USER", "admin")
	v.SetDefault("ADMIN_PASS_HASH", defaultAdminHash)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("EXAM_DURATION_MINUTES", 300)
	v.SetDefault("TIME_BUFFER_MINUTES", 10)
	v.SetDefault("BULK_EXTENSION_ENABLED", true)
	v.SetDefault("GUARD_ENABLED", true)
	v.SetDefault("GRADEABLE_ROLES", "student")
}

// FromEnv loads EXAMGUARD_ENV_FILE (default .env) when present, then reads
// the process environment on top of the defaults.
func FromEnv() (Config, error) {
	path := os.Getenv("EXAMGUARD_ENV_FILE")
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); err == nil {
		if err := godotenv.Load(path); err != nil {
			return Config{}, fmt.Errorf("config: load %s: %w", path, err)
		}
		log.Printf("config: loaded %s", path)
	} else if !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("config: stat %s: %w", path, err)
	}

	v := viper.New()
	v.SetTypeByDefaultValue(true)
	defaults(v)
	v.AutomaticEnv()
	return fromViper(v)
}

func fromViper(v *viper.Viper) (Config, error) {
	c := Config{
		Mode:                 Mode(strings.ToLower(v.GetString("MODE"))),
		HTTPAddr:             v.GetString("HTTP_ADDR"),
		DBDriver:             strings.ToLower(v.GetString("DB_DRIVER")),
		DBDSN:                v.GetString("DB_DSN"),
		AuthHMACSecret:       v.GetString("AUTH_HMAC_SECRET"),
		AdminUser:            v.GetString("ADMIN_USER"),
		AdminPassHash:        v.GetString("ADMIN_PASS_HASH"),
		CORSOrigins:          splitCSV(v.GetString("CORS_ORIGINS")),
		ExamDurationMinutes:  v.GetInt("EXAM_DURATION_MINUTES"),
		TimeBufferMinutes:    v.GetInt("TIME_BUFFER_MINUTES"),
		BulkExtensionEnabled: v.GetBool("BULK_EXTENSION_ENABLED"),
		GuardEnabled:         v.GetBool("GUARD_ENABLED"),
		GradeableRoles:       splitCSV(v.GetString("GRADEABLE_ROLES")),
	}
	if err := validate.Struct(c); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if c.Mode == ModeOnline && c.AuthHMACSecret == "dev-secret-change-me" {
		return Config{}, fmt.Errorf("config: AUTH_HMAC_SECRET must be set in online mode")
	}
	return c, nil
}

func (c Config) Settings() timewindow.Settings {
	return timewindow.FromMinutes(c.ExamDurationMinutes, c.TimeBufferMinutes)
}

func (c Config) GuardOptions() guard.Options {
	return guard.Options{
		Settings:             c.Settings(),
		BulkExtensionEnabled: c.BulkExtensionEnabled,
		GuardEnabled:         c.GuardEnabled,
		GradeableRoles:       append([]string(nil), c.GradeableRoles...),
	}
}

func splitCSV(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
