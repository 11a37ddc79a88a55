package remote

import (
	"context"
	stderrors "errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/gosnmp/gosnmp"

	"github.com/anstrom/inventorama/internal/errors"
	"github.com/anstrom/inventorama/internal/logging"
)

// OIDs used by the SNMP backend.
const (
	oidSysDescr            = ".1.3.6.1.2.1.1.1.0"
	oidSysName             = ".1.3.6.1.2.1.1.5.0"
	oidHrMemorySize        = ".1.3.6.1.2.1.25.2.2.0"
	oidHrSWInstalledName   = ".1.3.6.1.2.1.25.6.3.1.2"
	oidEntPhysicalModel    = ".1.3.6.1.2.1.47.1.1.1.1.13"
	oidEntPhysicalHardware = ".1.3.6.1.2.1.47.1.1.1.1.8"
)

const (
	defaultSNMPPort    = 161
	defaultSNMPTimeout = 2 * time.Second
	defaultSNMPRetries = 1
)

var buildPattern = regexp.MustCompile(`Build (\d+)`)

var errWalkLimit = stderrors.New("walk limit reached")

// SNMPConfig holds SNMP client settings.
type SNMPConfig struct {
	Port           uint16        `yaml:"port"`
	Version        string        `yaml:"version" validate:"omitempty,oneof=v2c v3"`
	Community      string        `yaml:"community"`
	Username       string        `yaml:"username"`
	AuthProtocol   string        `yaml:"auth_protocol"`
	AuthPassphrase string        `yaml:"auth_passphrase"`
	PrivProtocol   string        `yaml:"priv_protocol"`
	PrivPassphrase string        `yaml:"priv_passphrase"`
	Timeout        time.Duration `yaml:"timeout"`
	Retries        int           `yaml:"retries" validate:"min=0,max=10"`
}

// DefaultSNMPConfig returns v2c with the "public" community.
func DefaultSNMPConfig() SNMPConfig {
	return SNMPConfig{
		Port:      defaultSNMPPort,
		Version:   "v2c",
		Community: "public",
		Timeout:   defaultSNMPTimeout,
		Retries:   defaultSNMPRetries,
	}
}

// SNMPQuerier reads host properties from SNMPv2-MIB, ENTITY-MIB and
// HOST-RESOURCES-MIB. It cannot report the logged-in user.
type SNMPQuerier struct {
	config SNMPConfig
	logger *logging.Logger
}

// NewSNMPQuerier creates an SNMP backed querier.
func NewSNMPQuerier(cfg SNMPConfig, logger *logging.Logger) *SNMPQuerier {
	if cfg.Port == 0 {
		cfg.Port = defaultSNMPPort
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultSNMPTimeout
	}
	return &SNMPQuerier{config: cfg, logger: logger.WithComponent("remote.snmp")}
}

// Connect opens a UDP session and verifies the agent answers.
func (q *SNMPQuerier) Connect(ctx context.Context, address string) (Session, error) {
	client := q.newClient(ctx, address)
	if err := client.Connect(); err != nil {
		return nil, errors.ErrRemoteConnection(address, err)
	}

	// UDP connect always succeeds; a sysName get proves the agent is there.
	if _, err := client.Get([]string{oidSysName}); err != nil {
		_ = client.Conn.Close()
		if isSNMPAuthError(err) {
			return nil, errors.ErrPermissionDenied(address, err)
		}
		return nil, errors.ErrRemoteConnection(address, err)
	}

	q.logger.Debug("snmp session opened", "target", address)
	return &snmpSession{client: client, address: address}, nil
}

func (q *SNMPQuerier) newClient(ctx context.Context, address string) *gosnmp.GoSNMP {
	client := &gosnmp.GoSNMP{
		Context:            ctx,
		Target:             address,
		Port:               q.config.Port,
		Timeout:            q.config.Timeout,
		Retries:            q.config.Retries,
		MaxOids:            gosnmp.MaxOids,
		MaxRepetitions:     10,
		ExponentialTimeout: true,
	}

	switch q.config.Version {
	case "v3":
		usm := &gosnmp.UsmSecurityParameters{UserName: q.config.Username}
		flags := gosnmp.NoAuthNoPriv
		if q.config.AuthPassphrase != "" {
			usm.AuthenticationProtocol = authProtocol(q.config.AuthProtocol)
			usm.AuthenticationPassphrase = q.config.AuthPassphrase
			flags = gosnmp.AuthNoPriv
		}
		if q.config.PrivPassphrase != "" {
			usm.PrivacyProtocol = privProtocol(q.config.PrivProtocol)
			usm.PrivacyPassphrase = q.config.PrivPassphrase
			flags = gosnmp.AuthPriv
		}
		client.Version = gosnmp.Version3
		client.SecurityModel = gosnmp.UserSecurityModel
		client.MsgFlags = flags
		client.SecurityParameters = usm
	default:
		client.Version = gosnmp.Version2c
		client.Community = q.config.Community
	}
	return client
}

func authProtocol(name string) gosnmp.SnmpV3AuthProtocol {
	switch strings.ToUpper(name) {
	case "MD5":
		return gosnmp.MD5
	case "SHA256":
		return gosnmp.SHA256
	case "SHA512":
		return gosnmp.SHA512
	default:
		return gosnmp.SHA
	}
}

func privProtocol(name string) gosnmp.SnmpV3PrivProtocol {
	switch strings.ToUpper(name) {
	case "DES":
		return gosnmp.DES
	case "AES256":
		return gosnmp.AES256
	default:
		return gosnmp.AES
	}
}

func isSNMPAuthError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "authentication") || strings.Contains(msg, "unknown user")
}

type snmpSession struct {
	client  *gosnmp.GoSNMP
	address string
}

func (s *snmpSession) ComputerSystem(ctx context.Context) (ComputerSystem, error) {
	name, err := s.getString(ctx, oidSysName)
	if err != nil {
		return ComputerSystem{}, err
	}
	model, err := s.firstString(ctx, oidEntPhysicalModel)
	if err != nil {
		return ComputerSystem{}, err
	}
	return ComputerSystem{Name: name, Model: model}, nil
}

func (s *snmpSession) ProductVersion(ctx context.Context) (string, error) {
	return s.firstString(ctx, oidEntPhysicalHardware)
}

func (s *snmpSession) InstalledProducts(ctx context.Context, limit int) ([]Product, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var products []Product
	err := s.client.BulkWalk(oidHrSWInstalledName, func(pdu gosnmp.SnmpPDU) error {
		if len(products) >= limit {
			return errWalkLimit
		}
		if pdu.Type == gosnmp.OctetString {
			products = append(products, Product{Name: string(pdu.Value.([]byte))})
		}
		return nil
	})
	if err != nil && !stderrors.Is(err, errWalkLimit) {
		return nil, s.protocolError("InstalledProducts", err)
	}
	return products, nil
}

func (s *snmpSession) MemoryModules(ctx context.Context) ([]uint64, error) {
	pdu, err := s.get(ctx, oidHrMemorySize)
	if err != nil {
		return nil, err
	}
	kib := gosnmp.ToBigInt(pdu.Value).Uint64()
	return []uint64{kib * 1024}, nil
}

func (s *snmpSession) OperatingSystem(ctx context.Context) (OperatingSystem, error) {
	descr, err := s.getString(ctx, oidSysDescr)
	if err != nil {
		return OperatingSystem{}, err
	}
	return ParseSysDescr(descr), nil
}

func (s *snmpSession) Close() error {
	if s.client.Conn == nil {
		return nil
	}
	return s.client.Conn.Close()
}

// ParseSysDescr extracts the OS caption and build number from a Windows
// style sysDescr, e.g. "Hardware: ... - Software: Windows Version 6.3
// (Build 19045 Multiprocessor Free)".
func ParseSysDescr(descr string) OperatingSystem {
	caption := strings.TrimSpace(descr)
	if _, software, ok := strings.Cut(caption, "Software: "); ok {
		caption = software
	}
	if i := strings.Index(caption, " ("); i > 0 {
		caption = caption[:i]
	}
	var build string
	if m := buildPattern.FindStringSubmatch(descr); m != nil {
		build = m[1]
	}
	return OperatingSystem{Caption: caption, BuildNumber: build}
}

func (s *snmpSession) get(ctx context.Context, oid string) (gosnmp.SnmpPDU, error) {
	if err := ctx.Err(); err != nil {
		return gosnmp.SnmpPDU{}, err
	}
	result, err := s.client.Get([]string{oid})
	if err != nil {
		return gosnmp.SnmpPDU{}, s.protocolError(oid, err)
	}
	if result.Error != gosnmp.NoError {
		return gosnmp.SnmpPDU{}, s.protocolError(oid, fmt.Errorf("agent returned %s", result.Error))
	}
	if len(result.Variables) == 0 {
		return gosnmp.SnmpPDU{}, s.protocolError(oid, fmt.Errorf("empty response"))
	}
	v := result.Variables[0]
	if v.Type == gosnmp.NoSuchObject || v.Type == gosnmp.NoSuchInstance {
		return gosnmp.SnmpPDU{}, errors.ErrUnsupported(s.address, oid)
	}
	return v, nil
}

func (s *snmpSession) getString(ctx context.Context, oid string) (string, error) {
	pdu, err := s.get(ctx, oid)
	if err != nil {
		return "", err
	}
	if pdu.Type != gosnmp.OctetString {
		return "", s.protocolError(oid, fmt.Errorf("unexpected type %s", pdu.Type))
	}
	return strings.TrimSpace(string(pdu.Value.([]byte))), nil
}

// firstString walks a table column and returns its first non-empty value.
func (s *snmpSession) firstString(ctx context.Context, oid string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	var value string
	err := s.client.BulkWalk(oid, func(pdu gosnmp.SnmpPDU) error {
		if pdu.Type != gosnmp.OctetString {
			return nil
		}
		if v := strings.TrimSpace(string(pdu.Value.([]byte))); v != "" {
			value = v
			return errWalkLimit
		}
		return nil
	})
	if err != nil && !stderrors.Is(err, errWalkLimit) {
		return "", s.protocolError(oid, err)
	}
	return value, nil
}

func (s *snmpSession) protocolError(op string, err error) error {
	return errors.ErrRemoteProtocol(s.address, err).WithOperation(op)
}
