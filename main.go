package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/RichardoC/langchain-chat/internal/config"
	"github.com/RichardoC/langchain-chat/internal/llm"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Streams a single completion to stdout using the relay's configuration.
// The prompt is taken from the arguments.
func main() {
	// Initialize zap logger
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg := config.Load(viper.New())

	service, err := llm.New(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, llm.Options{
		Model:          cfg.OpenAIModel,
		Temperature:    cfg.OpenAITemperature,
		MaxConcurrency: 1,
		MaxTokens:      cfg.MaxTokens,
		Timeout:        cfg.Timeout,
		MaxRetries:     cfg.MaxRetries,
	}, logger)
	if err != nil {
		logger.Fatal("failed to initialize OpenAI", zap.Error(err))
	}

	prompt := strings.Join(os.Args[1:], " ")
	if prompt == "" {
		prompt = "What would be a good company name for a company that makes colorful socks?"
	}

	_, err = service.StreamCompletion(context.Background(), llm.CompletionRequest{Question: prompt}, func(_ context.Context, token string) error {
		fmt.Print(token)
		return nil
	})
	if err != nil {
		logger.Fatal("failed to generate completion", zap.Error(err))
	}
	fmt.Println()
}
