package ledger

import (
	"fmt"
	"net/url"

	liberrors "github.com/yanun0323/errors"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"main/internal/errors"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"

	defaultPostgresHost    = "localhost"
	defaultPostgresPort    = 5432
	defaultPostgresSSLMode = "disable"
)

// Option defines connection options for the ledger store. Driver selects
// postgres (the default) or sqlite; sqlite requires ConnString.
type Option struct {
	Driver     string
	Host       string
	Port       int
	User       string
	Password   string
	Database   string
	SSLMode    string
	Params     map[string]string
	ConnString string
	Config     *gorm.Config
}

func open(option Option) (*gorm.DB, error) {
	config := option.Config
	if config == nil {
		config = &gorm.Config{}
	}

	var dialector gorm.Dialector
	switch option.Driver {
	case DriverSQLite:
		if option.ConnString == "" {
			return nil, errors.Validationf("sqlite driver requires a conn string")
		}
		dialector = sqlite.Open(option.ConnString)
	case DriverPostgres, "":
		connString, err := option.dsn()
		if err != nil {
			return nil, err
		}
		dialector = postgres.Open(connString)
	default:
		return nil, errors.Validationf("unknown ledger driver %q", option.Driver)
	}

	db, err := gorm.Open(dialector, config)
	if err != nil {
		wrapped := liberrors.Wrap(err, "open ledger database").With("driver", option.Driver)
		return nil, errors.Unavailable(wrapped, "")
	}
	return db, nil
}

func (opt Option) dsn() (string, error) {
	if opt.ConnString != "" {
		return opt.ConnString, nil
	}

	host := opt.Host
	if host == "" {
		host = defaultPostgresHost
	}

	port := opt.Port
	if port == 0 {
		port = defaultPostgresPort
	}

	sslMode := opt.SSLMode
	if sslMode == "" {
		sslMode = defaultPostgresSSLMode
	}

	u := &url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", host, port),
	}

	if opt.User != "" {
		if opt.Password != "" {
			u.User = url.UserPassword(opt.User, opt.Password)
		} else {
			u.User = url.User(opt.User)
		}
	}

	if opt.Database != "" {
		u.Path = "/" + opt.Database
	}

	query := url.Values{}
	query.Set("sslmode", sslMode)
	for key, value := range opt.Params {
		if key == "" {
			continue
		}
		query.Set(key, value)
	}
	if len(query) != 0 {
		u.RawQuery = query.Encode()
	}

	return u.String(), nil
}
