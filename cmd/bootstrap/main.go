// Package main 系统初始化入口：建表并创建运营账户
package main

import (
	"context"
	"fmt"
	"log"

	"github.com/joho/godotenv"

	"telegen-ai-gateway/internal/config"
	"telegen-ai-gateway/internal/domain/entity"
	"telegen-ai-gateway/internal/infrastructure/persistence/postgres"
)

func main() {
	_ = godotenv.Load()

	fmt.Println("Starting system bootstrap...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx := context.Background()

	client, err := postgres.NewClient(&cfg.Database.Postgres)
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	defer func() { _ = client.Close() }()

	// 建表
	fmt.Println("Running schema migration...")
	if err := client.AutoMigrate(); err != nil {
		log.Fatalf("failed to migrate schema: %v", err)
	}

	// 创建运营账户（频道广播的记账主体）
	accounts := postgres.NewAccountRepository(client)
	operatorID := cfg.Billing.OperatorAccountID

	operator, err := accounts.GetByID(ctx, operatorID)
	if err != nil {
		log.Fatalf("failed to check operator account: %v", err)
	}
	if operator == nil {
		fmt.Printf("Creating operator account: %s...\n", operatorID)
		if err := accounts.Create(ctx, entity.NewAccount(operatorID, cfg.Billing.StartingCredits)); err != nil {
			log.Fatalf("failed to create operator account: %v", err)
		}
	} else {
		fmt.Printf("Operator account already exists: %s\n", operatorID)
	}

	fmt.Println("Bootstrap completed.")
}
