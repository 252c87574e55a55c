package main

import (
	"log"

	"github.com/joho/godotenv"

	"github.com/SignumGusik/KPO/services/payment/internal/app"
	"github.com/SignumGusik/KPO/services/payment/internal/config"
)

func main() {
	// .env опционален: удобен локально, в docker переменные задаёт compose
	_ = godotenv.Load()

	// Загружаем конфигурацию
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	cfg.Log()

	// Создаём и настраиваем приложение через DI container
	application, err := app.Build(cfg) //Build собирает граф зависимостей и инициализирует все компоненты
	if err != nil {
		log.Fatalf("Failed to build app: %v", err)
	}

	// Запускаем сервис
	if err := application.Run(); err != nil {
		log.Fatalf("Service error: %v", err)
	} //Run запускает сервис и блокируется до graceful shutdown.
}
