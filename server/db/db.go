// MySQL-backed credential store for the login and register pages
package db

import (
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
	"github.com/sirupsen/logrus"
)

type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	PoolSize int
}

// Pool wraps the driver pool; SetMaxOpenConns makes checkout block once
// PoolSize handles are out, matching the semaphore of a fixed pool
type Pool struct {
	db  *sql.DB
	log *logrus.Logger
}

func dsn(c Config) string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s", c.User, c.Password, c.Host, c.Port, c.Name)
}

func Open(c Config, log *logrus.Logger) (*Pool, error) {
	if c.PoolSize < 1 {
		c.PoolSize = 1
	}
	conn, err := sql.Open("mysql", dsn(c))
	if err != nil {
		return nil, err
	}
	conn.SetMaxOpenConns(c.PoolSize)
	conn.SetMaxIdleConns(c.PoolSize)
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, err
	}
	return &Pool{db: conn, log: log}, nil
}

func (p *Pool) Close() error {
	return p.db.Close()
}

// Verify checks a login attempt or performs a registration.
// login: the stored password must equal pwd.
// register: fails when the name is taken, otherwise inserts the pair
// and succeeds only when the insert does.
func (p *Pool) Verify(name, pwd string, isLogin bool) bool {
	if name == "" || pwd == "" {
		return false
	}
	p.log.Debugf("verify name:%s isLogin:%v", name, isLogin)

	var stored string
	err := p.db.QueryRow(
		"SELECT password FROM user WHERE username = ? LIMIT 1", name,
	).Scan(&stored)

	switch {
	case err == nil:
		if isLogin {
			return stored == pwd
		}
		p.log.Debug("user name taken")
		return false
	case errors.Is(err, sql.ErrNoRows):
		if isLogin {
			return false
		}
		if _, err := p.db.Exec(
			"INSERT INTO user(username, password) VALUES(?, ?)", name, pwd,
		); err != nil {
			p.log.Errorf("register insert: %v", err)
			return false
		}
		return true
	default:
		p.log.Errorf("verify query: %v", err)
		return false
	}
}
