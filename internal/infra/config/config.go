// Пакет config отвечает за сбор и предоставление конфигурации всего приложения
// (бот экспорта медиа из Telegram). Он:
//  1. читает переменные окружения из .env (через godotenv),
//  2. нормализует и валидирует входные значения,
//  3. предоставляет доступ к результату через singleton.
//
// Бизнес-контекст: бот обслуживает фиксированный список операторов (ADMINS),
// каждый из которых логинит собственный аккаунт Telegram (API_ID/API_HASH) и
// выгружает медиа из диапазона сообщений. Остальные «ручки» управляют
// логированием, скоростными лимитами и keep-alive веб-сервером.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// EnvConfig описывает параметры, приходящие из окружения (.env). Это «операционные»
// настройки запуска: учётные данные MTProto и бота, список операторов, пути
// хранилищ, лог-уровень, ограничения по скорости и т. д.
//
// NB: значения уже проходят минимальную валидацию и нормализацию в loadConfig.
// В рантайме по месту использования предполагается, что EnvConfig последователен.
type EnvConfig struct {
	APIID          int
	APIHash        string
	BotToken       string
	Admins         []int64
	SessionsFile   string
	DownloadDir    string
	LogLevel       string
	ThrottleRPS    int
	ProgressEditMS int
	TestDC         bool
	// Файловое логирование
	LogFile           string
	LogFileLevel      string
	LogFileMaxSize    int
	LogFileMaxBackups int
	LogFileMaxAge     int
	LogFileCompress   bool
	// Web Server
	WebServerEnable  bool
	WebServerAddress string
}

// Config хранит конфигурацию среды и предупреждения, накопленные при загрузке.
type Config struct {
	Env      EnvConfig
	warnings []string
}

// Значения по умолчанию для параметров окружения и связанных файлов.
const (
	defaultThrottleRPS    = 1
	defaultProgressEditMS = 2000
	defaultLogLevel       = "info"
	defaultSessionsFile   = "data/sessions.bbolt"
	defaultDownloadDir    = "data/downloads"
	// Файловое логирование (LOG_FILE не имеет дефолта - должен быть явно указан для активации)
	defaultLogFileLevel      = "debug"
	defaultLogFileMaxSize    = 50
	defaultLogFileMaxBackups = 3
	defaultLogFileMaxAge     = 7
	defaultLogFileCompress   = true
	// Web Server
	defaultWebServerEnable  = false
	defaultWebServerAddress = "0.0.0.0:8080"
)

var (
	cfgInstance *Config
	cfgDone     bool
)

// Load — точка входа для инициализации глобальной конфигурации всего приложения.
// При первом вызове читает .env, формирует EnvConfig и фиксирует результат в
// singleton cfgInstance. Повторный вызов запрещён (возвращается ошибка), чтобы
// избежать гонок конфигурации на старте.
func Load(envPath string) error {
	if cfgDone {
		return errors.New("config already loaded")
	}
	newCfg, err := loadConfig(envPath)
	if err != nil {
		return err
	}
	cfgInstance = newCfg
	cfgDone = true
	return nil
}

// loadConfig выполняет фактическую загрузку/валидацию без установки глобального
// состояния. Удобно для тестов: можно собрать временный Config и проверить его.
func loadConfig(envPath string) (*Config, error) {
	if err := godotenv.Load(envPath); err != nil {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	apiID, err := parseRequiredInt("API_ID")
	if err != nil {
		return nil, err
	}

	apiHash := strings.TrimSpace(os.Getenv("API_HASH"))
	if apiHash == "" {
		return nil, errors.New("env API_HASH must be set")
	}

	botToken := strings.TrimSpace(os.Getenv("BOT_TOKEN"))
	if botToken == "" {
		return nil, errors.New("env BOT_TOKEN must be set")
	}

	admins, err := parseAdmins(os.Getenv("ADMINS"))
	if err != nil {
		return nil, err
	}

	var warnings []string

	throttleRPS := parseIntDefault("THROTTLE_RPS", defaultThrottleRPS, greaterThanZero, &warnings)
	progressEditMS := parseIntDefault("PROGRESS_EDIT_MS", defaultProgressEditMS, nonNegative, &warnings)
	logLevel := sanitizeLogLevel("LOG_LEVEL", os.Getenv("LOG_LEVEL"), defaultLogLevel, &warnings)
	sessionsFile := sanitizeFile("SESSIONS_FILE", os.Getenv("SESSIONS_FILE"), defaultSessionsFile, &warnings)
	downloadDir := sanitizeFile("DOWNLOAD_DIR", os.Getenv("DOWNLOAD_DIR"), defaultDownloadDir, &warnings)
	testDC := strings.EqualFold(strings.TrimSpace(os.Getenv("TEST_DC")), "true")
	logFile := strings.TrimSpace(os.Getenv("LOG_FILE"))
	logFileLevel := sanitizeLogLevel("LOG_FILE_LEVEL", os.Getenv("LOG_FILE_LEVEL"), defaultLogFileLevel, &warnings)
	logFileMaxSize := parseIntDefault("LOG_FILE_MAX_SIZE_MB", defaultLogFileMaxSize, greaterThanZero, &warnings)
	logFileMaxBackups := parseIntDefault("LOG_FILE_MAX_BACKUPS", defaultLogFileMaxBackups, nonNegative, &warnings)
	logFileMaxAge := parseIntDefault("LOG_FILE_MAX_AGE_DAYS", defaultLogFileMaxAge, nonNegative, &warnings)
	logFileCompress := parseBoolDefault("LOG_FILE_COMPRESS", defaultLogFileCompress, &warnings)
	// Web Server
	webServerEnable := parseBoolDefault("WEB_SERVER_ENABLE", defaultWebServerEnable, &warnings)
	webServerAddress := sanitizeFile("WEB_SERVER_ADDRESS", os.Getenv("WEB_SERVER_ADDRESS"),
		defaultWebServerAddress, &warnings)

	env := EnvConfig{
		APIID:          apiID,
		APIHash:        apiHash,
		BotToken:       botToken,
		Admins:         admins,
		SessionsFile:   sessionsFile,
		DownloadDir:    downloadDir,
		LogLevel:       logLevel,
		ThrottleRPS:    throttleRPS,
		ProgressEditMS: progressEditMS,
		TestDC:         testDC,
		// Файловое логирование
		LogFile:           logFile,
		LogFileLevel:      logFileLevel,
		LogFileMaxSize:    logFileMaxSize,
		LogFileMaxBackups: logFileMaxBackups,
		LogFileMaxAge:     logFileMaxAge,
		LogFileCompress:   logFileCompress,
		// Web Server
		WebServerEnable:  webServerEnable,
		WebServerAddress: webServerAddress,
	}

	return &Config{Env: env, warnings: warnings}, nil
}

// Warnings возвращает накопленные предупреждения, возникшие при загрузке .env
// (например, когда подставлено значение по умолчанию). Возвращается копия.
func Warnings() []string {
	result := make([]string, len(cfgInstance.warnings))
	copy(result, cfgInstance.warnings)
	return result
}

// Env возвращает EnvConfig из глобального singleton. Это неизменяемый снимок
// на момент загрузки; для обновления надо перезапустить процесс.
func Env() EnvConfig {
	return cfgInstance.Env
}

// parseAdmins разбирает CSV-список идентификаторов операторов. Список обязателен:
// бот без операторов бесполезен и молча игнорировал бы все входящие сообщения.
func parseAdmins(value string) ([]int64, error) {
	raw := strings.TrimSpace(value)
	if raw == "" {
		return nil, errors.New("env ADMINS must be set (comma-separated telegram user ids)")
	}
	parts := strings.Split(raw, ",")
	admins := make([]int64, 0, len(parts))
	for _, part := range parts {
		token := strings.TrimSpace(part)
		if token == "" {
			continue
		}
		id, err := strconv.ParseInt(token, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("env ADMINS entry %q is not a valid user id: %w", token, err)
		}
		admins = append(admins, id)
	}
	if len(admins) == 0 {
		return nil, errors.New("env ADMINS produced an empty list")
	}
	return admins, nil
}

// parseRequiredInt читает обязательную целочисленную переменную окружения name.
// Если переменная не задана или не является корректным числом — возвращает ошибку.
// Используется для критичных параметров, без которых приложение не стартует.
func parseRequiredInt(name string) (int, error) {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return 0, fmt.Errorf("env %s must be set", name)
	}
	v, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("env %s must be a valid integer: %w", name, err)
	}
	return v, nil
}

// parseIntDefault читает name как int. Если пусто/некорректно/не проходит
// дополнительную проверку validator — возвращает defaultVal и пишет предупреждение.
// Это позволяет не падать на несущественных настройках и иметь дефолты.
func parseIntDefault(name string, defaultVal int, validator func(int) bool, warnings *[]string) int {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		appendWarningf(warnings, "env %s is not set; using default %d", name, defaultVal)
		return defaultVal
	}
	v, err := strconv.Atoi(value)
	if err != nil {
		appendWarningf(warnings, "env %s value %q is not a valid integer; using default %d", name, value, defaultVal)
		return defaultVal
	}
	if validator != nil && !validator(v) {
		appendWarningf(warnings, "env %s value %d does not satisfy constraints; using default %d", name, v, defaultVal)
		return defaultVal
	}
	return v
}

// appendWarningf — служебная функция для накопления предупреждений о некорректных
// переменных окружения. Список затем доступен через Warnings().
func appendWarningf(warnings *[]string, format string, args ...any) {
	if warnings == nil {
		return
	}
	*warnings = append(*warnings, fmt.Sprintf(format, args...))
}

// greaterThanZero/ nonNegative — простые валидаторы чисел. Используются в
// parseIntDefault, чтобы навязать смысловые ограничения без падения приложения.
func greaterThanZero(v int) bool { return v > 0 }
func nonNegative(v int) bool     { return v >= 0 }

// parseBoolDefault читает name как bool. Если пусто/некорректно — возвращает defaultVal и пишет предупреждение.
func parseBoolDefault(name string, defaultVal bool, warnings *[]string) bool {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		appendWarningf(warnings, "env %s is not set; using default %v", name, defaultVal)
		return defaultVal
	}
	v, err := strconv.ParseBool(value)
	if err != nil {
		appendWarningf(warnings, "env %s value %q is not a valid boolean; using default %v", name, value, defaultVal)
		return defaultVal
	}
	return v
}

// sanitizeLogLevel нормализует уровень и ограничивает значения набором
// {debug, info, warn, error}. Всё остальное превращается в defaultVal.
func sanitizeLogLevel(name, level, defaultVal string, warnings *[]string) string {
	lvl := strings.ToLower(strings.TrimSpace(level))
	if lvl == "" {
		appendWarningf(warnings, "env %s is not set; using default %q", name, defaultVal)
		return defaultVal
	}
	switch lvl {
	case "debug", "info", "warn", "error":
		return lvl
	default:
		appendWarningf(warnings, "env %s value %q is invalid; using default %q", name, level, defaultVal)
		return defaultVal
	}
}

// sanitizeFile возвращает валидное имя файла/адреса конфигурации. Если переменная
// не задана, подставляет fallback и пишет предупреждение.
func sanitizeFile(name, value, fallback string, warnings *[]string) string {
	v := strings.TrimSpace(value)
	if v == "" {
		appendWarningf(warnings, "env %s is not set; using default %q", name, fallback)
		return fallback
	}
	return v
}
