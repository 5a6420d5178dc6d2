package repo

import (
	"fractal_bot/pkg/db"
)

// Repository - pgx-реализация хранилища свечей, сигналов, сделок,
// очереди ордеров, событий площадки и снапшотов движка.
type Repository struct {
	db db.TxManager
}

func New(tx db.TxManager) *Repository {
	return &Repository{db: tx}
}
