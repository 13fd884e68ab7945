// Package config loads runtime configuration from the environment with an
// optional YAML overlay.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the full runtime configuration for the allocation layer.
type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Database  DatabaseConfig  `yaml:"database"`
	Inference InferenceConfig `yaml:"inference"`
	Ledger    LedgerConfig    `yaml:"ledger"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Auth      AuthConfig      `yaml:"auth"`
	Log       LogConfig       `yaml:"log"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr" env:"HTTP_ADDR,default=:8080"`
}

// DatabaseConfig selects the allocation store. An empty DSN keeps the
// in-memory store.
type DatabaseConfig struct {
	DSN string `yaml:"dsn" env:"DATABASE_DSN"`
}

type InferenceConfig struct {
	FertilityURL string        `yaml:"fertility_url" env:"FERTILITY_MODEL_URL,default=http://localhost:5001/predict"`
	IndexURL     string        `yaml:"index_url" env:"INDEX_MODEL_URL,default=http://localhost:5002/predict"`
	Timeout      time.Duration `yaml:"timeout" env:"INFERENCE_TIMEOUT,default=10s"`
}

// LedgerConfig selects and parameterises the commit backend.
type LedgerConfig struct {
	// Backend is "fabric" or "evm".
	Backend string        `yaml:"backend" env:"LEDGER_BACKEND,default=fabric"`
	Timeout time.Duration `yaml:"timeout" env:"LEDGER_TIMEOUT,default=30s"`

	Fabric FabricConfig `yaml:"fabric"`
	EVM    EVMConfig    `yaml:"evm"`
}

type FabricConfig struct {
	PeerEndpoint  string `yaml:"peer_endpoint" env:"FABRIC_PEER_ENDPOINT,default=localhost:7051"`
	GatewayPeer   string `yaml:"gateway_peer" env:"FABRIC_GATEWAY_PEER,default=peer0.org1.example.com"`
	MSPID         string `yaml:"msp_id" env:"FABRIC_MSP_ID,default=Org1MSP"`
	ChannelName   string `yaml:"channel" env:"FABRIC_CHANNEL,default=mychannel"`
	ChaincodeName string `yaml:"chaincode" env:"FABRIC_CHAINCODE,default=wateralloc"`
	CertPath      string `yaml:"cert_path" env:"FABRIC_CERT_PATH"`
	KeyPath       string `yaml:"key_path" env:"FABRIC_KEY_PATH"`
	TLSCertPath   string `yaml:"tls_cert_path" env:"FABRIC_TLS_CERT_PATH"`
}

type EVMConfig struct {
	RPCURL          string `yaml:"rpc_url" env:"EVM_RPC_URL"`
	ContractAddress string `yaml:"contract_address" env:"EVM_CONTRACT_ADDRESS"`
	PrivateKeyHex   string `yaml:"private_key" env:"EVM_PRIVATE_KEY"`
	ChainID         int64  `yaml:"chain_id" env:"EVM_CHAIN_ID,default=1337"`
}

type MQTTConfig struct {
	BrokerURL   string        `yaml:"broker_url" env:"MQTT_BROKER_URL"`
	Username    string        `yaml:"username" env:"MQTT_USERNAME"`
	Password    string        `yaml:"password" env:"MQTT_PASSWORD"`
	Timeout     time.Duration `yaml:"timeout" env:"MQTT_TIMEOUT,default=5s"`
	MinInterval time.Duration `yaml:"min_interval" env:"MQTT_MIN_INTERVAL,default=1s"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" env:"JWT_SECRET,default=dev-secret-change-me"`
	Approver  string `yaml:"approver" env:"APPROVER_NAME,default=admin"`
}

type LogConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL,default=info"`
	Format string `yaml:"format" env:"LOG_FORMAT,default=text"`
}

// Load reads .env when present, then the environment, then an optional YAML
// file pointed at by CONFIG_FILE. YAML values win over environment values
// only where the YAML sets a non-zero field.
func Load() (Config, error) {
	_ = godotenv.Load() // allow .env for local runs

	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode environment: %w", err)
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := applyFile(&cfg, path); err != nil {
			return Config{}, err
		}
	}

	if cfg.Ledger.Backend != "fabric" && cfg.Ledger.Backend != "evm" {
		return Config{}, fmt.Errorf("unsupported ledger backend %q", cfg.Ledger.Backend)
	}
	return cfg, nil
}

func applyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}
