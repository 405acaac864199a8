// Package storage provides the GORM-backed Store implementation for the
// taskforge coordinator.
//
// All conditional status transitions are expressed as UPDATE ... WHERE
// status IN (...) with a RowsAffected check, so the database row is the
// arbiter of every race. Multi-row effects of one logical operation run
// inside a single transaction.
package storage
