// classifytest runs the intent classifier against a sample message from
// the command line. Manual smoke tool for prompt and model changes.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	openai "github.com/sashabaranov/go-openai"

	"github.com/echoposthq/echopost/internal/intent"
	"github.com/echoposthq/echopost/pkg/logging"
)

func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	text := strings.Join(os.Args[1:], " ")
	if strings.TrimSpace(text) == "" {
		text = "Write me a LinkedIn post about our Q3 results"
	}

	logger := logging.New("debug")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	fmt.Println("Input:", text)
	fmt.Println()

	fmt.Println("[1] Rule fallback:")
	ruleResult := intent.ClassifyByRules(text)
	printResult(ruleResult)

	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		fmt.Println("\nOPENAI_API_KEY not set, skipping the model path")
		return
	}

	model := os.Getenv("OPENAI_MODEL")
	classifier := intent.NewClassifier(openai.NewClient(apiKey), model, logger)

	fmt.Println("\n[2] Model classification:")
	printResult(classifier.Classify(ctx, text))
}

func printResult(r intent.Result) {
	fmt.Printf("  intent=%s confidence=%.2f source=%s\n", r.Intent, r.Confidence, r.Source)
	fmt.Printf("  explicit=%+v\n", r.Explicit)
	fmt.Printf("  inferred=%+v\n", r.Inferred)
}
