package config

import (
	"strings"
	"time"

	"github.com/ooni/esptls/internal/model"
	"github.com/ooni/esptls/pkg/esptls"
	"github.com/pkg/errors"
)

// TLS settings. File paths are relative to the profile directory.
type TLS struct {
	CACert            string   `json:"ca_cert"`
	GlobalStore       []string `json:"global_store"`
	SystemBundle      bool     `json:"system_bundle"`
	ClientCert        string   `json:"client_cert"`
	ClientKey         string   `json:"client_key"`
	ClientKeyPassword string   `json:"client_key_password"`
	CommonName        string   `json:"common_name"`
	SkipCommonName    bool     `json:"skip_common_name"`
	ALPN              []string `json:"alpn"`
	TLSVersion        string   `json:"tls_version"`
	SessionTickets    bool     `json:"session_tickets"`
	ClientHello       string   `json:"client_hello"`
}

// KeepAlive settings
type KeepAlive struct {
	IdleSeconds     int `json:"idle_seconds"`
	IntervalSeconds int `json:"interval_seconds"`
	Count           int `json:"count"`
}

// Network settings
type Network struct {
	NonBlock   bool       `json:"non_block"`
	TimeoutMS  int        `json:"timeout_ms"`
	KeepAlive  *KeepAlive `json:"keep_alive"`
	IfName     string     `json:"if_name"`
	AddrFamily string     `json:"addr_family"`
	DNSServer  string     `json:"dns_server"`
}

// Server settings used by esptlsd
type Server struct {
	Address    string   `json:"address"`
	Metrics    string   `json:"metrics"`
	ServerCert string   `json:"server_cert"`
	ServerKey  string   `json:"server_key"`
	ClientCA   string   `json:"client_ca"`
	ALPN       []string `json:"alpn"`
	TimeoutMS  int      `json:"timeout_ms"`
}

func (n *Network) family() (esptls.AddressFamily, error) {
	switch strings.ToLower(n.AddrFamily) {
	case "", "unspec":
		return esptls.AddressFamilyUnspec, nil
	case "inet", "ipv4":
		return esptls.AddressFamilyINET, nil
	case "inet6", "ipv6":
		return esptls.AddressFamilyINET6, nil
	default:
		return 0, errors.Errorf("invalid addr_family: %q", n.AddrFamily)
	}
}

// ClientConfig returns the esptls client configuration described by the
// profile, reading the referenced certificate and key files.
func (c *Config) ClientConfig(logger model.Logger) (*esptls.Config, error) {
	family, err := c.Network.family()
	if err != nil {
		return nil, err
	}
	cfg := &esptls.Config{
		UseGlobalCAStore:  len(c.TLS.GlobalStore) > 0,
		ClientKeyPassword: []byte(c.TLS.ClientKeyPassword),
		CommonName:        c.TLS.CommonName,
		SkipCommonName:    c.TLS.SkipCommonName,
		ALPN:              c.TLS.ALPN,
		NonBlock:          c.Network.NonBlock,
		TimeoutMS:         c.Network.TimeoutMS,
		IfName:            c.Network.IfName,
		AddrFamily:        family,
		DNSServer:         c.Network.DNSServer,
		TLSVersion:        c.TLS.TLSVersion,
		SessionTickets:    c.TLS.SessionTickets,
		ClientHello:       c.TLS.ClientHello,
		Logger:            logger,
	}
	if ka := c.Network.KeepAlive; ka != nil {
		cfg.KeepAlive = &esptls.KeepAlive{
			Idle:     time.Duration(ka.IdleSeconds) * time.Second,
			Interval: time.Duration(ka.IntervalSeconds) * time.Second,
			Count:    ka.Count,
		}
	}
	if cfg.CACert, err = c.readFile(c.TLS.CACert); err != nil {
		return nil, err
	}
	if cfg.ClientCert, err = c.readFile(c.TLS.ClientCert); err != nil {
		return nil, err
	}
	if cfg.ClientKey, err = c.readFile(c.TLS.ClientKey); err != nil {
		return nil, err
	}
	if c.TLS.SystemBundle {
		bundle, err := esptls.NewSystemCrtBundle(logger)
		if err != nil {
			return nil, errors.Wrap(err, "loading the system bundle")
		}
		cfg.CrtBundleAttach = bundle.Attach
	}
	return cfg, nil
}

// ServerConfig returns the esptls server configuration described by the profile.
func (c *Config) ServerConfig(logger model.Logger) (*esptls.ServerConfig, error) {
	cfg := &esptls.ServerConfig{
		ALPN:      c.Server.ALPN,
		NonBlock:  c.Network.NonBlock,
		TimeoutMS: c.Server.TimeoutMS,
		Logger:    logger,
	}
	var err error
	if cfg.ServerCert, err = c.readFile(c.Server.ServerCert); err != nil {
		return nil, err
	}
	if cfg.ServerKey, err = c.readFile(c.Server.ServerKey); err != nil {
		return nil, err
	}
	if cfg.CACert, err = c.readFile(c.Server.ClientCA); err != nil {
		return nil, err
	}
	if len(cfg.ServerCert) <= 0 || len(cfg.ServerKey) <= 0 {
		return nil, errors.New("server_cert and server_key are required")
	}
	return cfg, nil
}
