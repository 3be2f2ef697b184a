package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StoreBackendPostgres  = "postgres"
	StoreBackendFirestore = "firestore"

	MQBackendRabbitMQ = "rabbitmq"
	MQBackendPubSub   = "pubsub"

	StorageBackendMinio = "minio"
	StorageBackendGCS   = "gcs"
)

type Config struct {
	Env          string
	LogLevel     string
	ServerPort   int
	StoreBackend string
	Database     DatabaseConfig
	Firestore    FirestoreConfig
	Payment      PaymentConfig
	Registration RegistrationConfig
	Auth         AuthConfig
	Redis        RedisConfig
	MQ           MQConfig
	Storage      StorageConfig
	CORS         CORSConfig
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	UseSSL   bool
}

type FirestoreConfig struct {
	ProjectID       string
	CredentialsFile string
	Collection      string
}

// PaymentConfig holds the ioTec Pay endpoints and credentials.
type PaymentConfig struct {
	AuthURL       string
	CollectionURL string
	StatusURL     string
	ClientID      string
	ClientSecret  string
	WalletID      string
	Currency      string
	Timeout       time.Duration
}

// RegistrationConfig holds the menu texts and the flat membership fee.
type RegistrationConfig struct {
	ServiceName  string
	InquiryPhone string
	PackageName  string
	Amount       int64
}

type AuthConfig struct {
	JWTSecret         string
	AdminUsername     string
	AdminPasswordHash string
	TokenTTL          time.Duration
	LoginRPS          float64
	LoginBurst        int
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type MQConfig struct {
	Backend string
	Channel string
	// MaxDeliveries is how often a notification is handed to the worker
	// before it is dead-lettered.
	MaxDeliveries int
	RetryDelay    time.Duration
	RabbitMQ      RabbitMQConfig
	PubSub        PubSubConfig
}

type RabbitMQConfig struct {
	URL             string
	QueueDurable    bool
	QueueAutoDelete bool
	PrefetchCount   int
}

type PubSubConfig struct {
	ProjectID          string
	CredentialsFile    string
	SubscriptionSuffix string
}

type StorageConfig struct {
	Backend string
	// RetentionDays expires archived webhooks; zero keeps them.
	RetentionDays int
	Minio         MinioConfig
	GCS           GCSConfig
}

type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type GCSConfig struct {
	Bucket          string
	ProjectID       string
	CredentialsFile string
}

type CORSConfig struct {
	AllowedOrigins []string
}

func LoadConfig() Config {
	if os.Getenv("ENV") == "dev" {
		godotenv.Load()
	}

	dbConfig := DatabaseConfig{
		Host:     getEnv("DB_HOST", "localhost"),
		Port:     getEnvInt("DB_PORT", 5432),
		User:     getEnv("DB_USER", "yofarm"),
		Password: getEnv("DB_PASSWORD", "password"),
		DBName:   getEnv("DB_NAME", "yofarm_db"),
		UseSSL:   getEnvBool("DB_USE_SSL", false),
	}

	paymentConfig := PaymentConfig{
		AuthURL:       getEnv("IOTEC_AUTH_URL", "https://id.iotec.io/connect/token"),
		CollectionURL: getEnv("IOTEC_COLLECTION_URL", "https://pay.iotec.io/api/collections/collect"),
		StatusURL:     getEnv("IOTEC_STATUS_URL", "https://pay.iotec.io/api/collections/status"),
		ClientID:      getEnv("IOTEC_CLIENT_ID", ""),
		ClientSecret:  getEnv("IOTEC_CLIENT_SECRET", ""),
		WalletID:      getEnv("WALLET_ID", ""),
		Currency:      getEnv("PAYMENT_CURRENCY", "UGX"),
		Timeout:       getEnvDuration("PAYMENT_TIMEOUT", 15*time.Second),
	}

	return Config{
		Env:          getEnv("ENV", "production"),
		LogLevel:     getEnv("LOG_LEVEL", ""),
		ServerPort:   getEnvInt("SERVER_PORT", 8080),
		StoreBackend: getEnv("STORE_BACKEND", StoreBackendPostgres),
		Database:     dbConfig,
		Firestore: FirestoreConfig{
			ProjectID:       getEnv("FIRESTORE_PROJECT_ID", ""),
			CredentialsFile: getEnv("FIRESTORE_CREDENTIALS_FILE", ""),
			Collection:      getEnv("FIRESTORE_COLLECTION", "users"),
		},
		Payment: paymentConfig,
		Registration: RegistrationConfig{
			ServiceName:  getEnv("SERVICE_NAME", "Yofarm Hub B2B"),
			InquiryPhone: getEnv("INQUIRY_PHONE", "0200947464"),
			PackageName:  getEnv("PACKAGE_NAME", "Yofarm Access"),
			Amount:       int64(getEnvInt("REGISTRATION_AMOUNT", 9999)),
		},
		Auth: AuthConfig{
			JWTSecret:         getEnv("JWT_SECRET", ""),
			AdminUsername:     getEnv("ADMIN_USERNAME", "admin"),
			AdminPasswordHash: getEnv("ADMIN_PASSWORD_HASH", ""),
			TokenTTL:          getEnvDuration("JWT_TTL", 12*time.Hour),
			LoginRPS:          getEnvFloat("LOGIN_RATE_LIMIT_RPS", 1),
			LoginBurst:        getEnvInt("LOGIN_RATE_LIMIT_BURST", 5),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		MQ: MQConfig{
			Backend:       getEnv("MQ_BACKEND", ""),
			Channel:       getEnv("MQ_CHANNEL", "payment-notifications"),
			MaxDeliveries: getEnvInt("MQ_MAX_DELIVERIES", 5),
			RetryDelay:    getEnvDuration("MQ_RETRY_DELAY", 30*time.Second),
			RabbitMQ: RabbitMQConfig{
				URL:             getEnv("RABBITMQ_URL", ""),
				QueueDurable:    getEnvBool("RABBITMQ_QUEUE_DURABLE", true),
				QueueAutoDelete: getEnvBool("RABBITMQ_QUEUE_AUTO_DELETE", false),
				PrefetchCount:   getEnvInt("RABBITMQ_PREFETCH", 10),
			},
			PubSub: PubSubConfig{
				ProjectID:          getEnv("PUBSUB_PROJECT_ID", ""),
				CredentialsFile:    getEnv("PUBSUB_CREDENTIALS_FILE", ""),
				SubscriptionSuffix: getEnv("PUBSUB_SUBSCRIPTION_SUFFIX", "-sub"),
			},
		},
		Storage: StorageConfig{
			Backend:       getEnv("STORAGE_BACKEND", ""),
			RetentionDays: getEnvInt("ARCHIVE_RETENTION_DAYS", 0),
			Minio: MinioConfig{
				Endpoint:  getEnv("MINIO_ENDPOINT", ""),
				AccessKey: getEnv("MINIO_ACCESS_KEY", ""),
				SecretKey: getEnv("MINIO_SECRET_KEY", ""),
				Bucket:    getEnv("MINIO_BUCKET", "yofarm-webhooks"),
				UseSSL:    getEnvBool("MINIO_USE_SSL", false),
			},
			GCS: GCSConfig{
				Bucket:          getEnv("GCS_BUCKET", ""),
				ProjectID:       getEnv("GCS_PROJECT_ID", ""),
				CredentialsFile: getEnv("GCS_CREDENTIALS_FILE", ""),
			},
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if valueStr, exists := os.LookupEnv(key); exists {
		var value int
		fmt.Sscanf(valueStr, "%d", &value)
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if valueStr, exists := os.LookupEnv(key); exists {
		value, err := strconv.ParseFloat(strings.TrimSpace(valueStr), 64)
		if err != nil {
			return defaultValue
		}
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if valueStr, exists := os.LookupEnv(key); exists {
		value, err := strconv.ParseBool(strings.TrimSpace(valueStr))
		if err != nil {
			return defaultValue
		}
		return value
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("15s") or plain seconds ("15").
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}
	valueStr = strings.TrimSpace(valueStr)
	if d, err := time.ParseDuration(valueStr); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(valueStr); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	valueStr, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
