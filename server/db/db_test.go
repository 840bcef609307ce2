package db

import "testing"

func TestDSN(t *testing.T) {
	c := Config{
		Host:     "localhost",
		Port:     3306,
		User:     "root",
		Password: "secret",
		Name:     "webserv",
	}
	want := "root:secret@tcp(localhost:3306)/webserv"
	if got := dsn(c); got != want {
		t.Errorf("dsn = %q, want %q", got, want)
	}
}
