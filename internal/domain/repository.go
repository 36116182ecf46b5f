package domain

import "context"

// ProductReader читает каталог.
type ProductReader interface {
	// Get возвращает товар по идентификатору или ErrProductNotFound.
	Get(ctx context.Context, id int64) (Product, error)
}

// ProductRepository описывает требования к хранилищу каталога.
type ProductRepository interface {
	ProductReader
	// Create добавляет товар и возвращает его с присвоенным ID.
	Create(ctx context.Context, product Product) (Product, error)
	// List возвращает окно каталога и общее число товаров.
	List(ctx context.Context, query ListQuery) ([]Product, int, error)
}

// OrderMutation изменяет заказ внутри атомарной операции Update.
// Ошибка из мутации отменяет запись. products читает каталог через то же
// соединение, что держит блокировку заказа; хранилище без транзакций передаёт nil.
type OrderMutation func(order *Order, products ProductReader) error

// OrderRepository описывает требования к хранилищу заказов.
type OrderRepository interface {
	// Create сохраняет новый заказ. Возвращает ErrOrderAlreadyExists, если ID уже занят.
	Create(ctx context.Context, order Order) error
	// Get возвращает заказ по идентификатору или ErrOrderNotFound, если его нет.
	Get(ctx context.Context, id string) (Order, error)
	// Update читает заказ, применяет mutate и сохраняет результат как одну
	// атомарную операцию: параллельные Update по одному ID выполняются строго по очереди.
	Update(ctx context.Context, id string, mutate OrderMutation) (Order, error)
	// Delete удаляет заказ или возвращает ErrOrderNotFound.
	Delete(ctx context.Context, id string) error
	// List возвращает окно заказов и общее число записей с учётом фильтра по статусу.
	List(ctx context.Context, query ListQuery) ([]Order, int, error)
}
