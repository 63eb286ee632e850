package gormdb

import (
	"context"
	"database/sql"

	"github.com/golangci/repohealth/internal/shared/logutil"
	"github.com/jinzhu/gorm"
)

// ctxDB binds every statement gorm issues to ctx. It hides Close and Begin
// of the shared pool from gorm.
type ctxDB struct {
	pool *sql.DB
	ctx  context.Context
}

func (db ctxDB) Exec(query string, args ...interface{}) (sql.Result, error) {
	return db.pool.ExecContext(db.ctx, query, args...)
}

func (db ctxDB) Prepare(query string) (*sql.Stmt, error) {
	return db.pool.PrepareContext(db.ctx, query)
}

func (db ctxDB) Query(query string, args ...interface{}) (*sql.Rows, error) {
	return db.pool.QueryContext(db.ctx, query, args...)
}

func (db ctxDB) QueryRow(query string, args ...interface{}) *sql.Row {
	return db.pool.QueryRowContext(db.ctx, query, args...)
}

// FromSQL returns a gorm handle over db whose queries are cancelled with ctx
// and logged into log.
func FromSQL(ctx context.Context, db *sql.DB, log logutil.Log) (*gorm.DB, error) {
	gormDB, err := gorm.Open("postgres", ctxDB{pool: db, ctx: ctx})
	if err != nil {
		return nil, err
	}

	gormDB.SetLogger(NewLogger(log))
	return gormDB, nil
}
