// Package storeinfra implements repositorycache.Store and
// unitofwork.TxBeginner on bun, for postgres (lib/pq) and sqlite
// (mattn/go-sqlite3).
package storeinfra
