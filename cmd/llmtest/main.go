package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/mindhaven/mindhaven-platform/internal/assistant"
)

func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Test conversation with multiple turns
	turns := []assistant.Turn{
		{Role: assistant.ChatRoleUser, Content: "Hi, I've been feeling really overwhelmed lately."},
		{Role: assistant.ChatRoleAssistant, Content: "I'm sorry you're feeling overwhelmed. That sounds really hard. Can you tell me a bit more about what's been weighing on you?"},
		{Role: assistant.ChatRoleUser, Content: "Work has been nonstop and I can't sleep."},
	}

	req := assistant.LLMRequest{
		System:      []string{"You are a warm, supportive listener. Keep responses brief."},
		Messages:    turns,
		MaxTokens:   200,
		Temperature: 0.7,
	}

	fmt.Println("LLM Provider Test")
	fmt.Println("-----------------")

	// Test Gemini directly
	geminiKey := os.Getenv("GEMINI_API_KEY")
	if geminiKey != "" {
		fmt.Println("\n[1] Testing Gemini directly...")
		geminiClient, err := assistant.NewGeminiClient(ctx, geminiKey, "gemini-2.5-flash")
		if err != nil {
			fmt.Printf("    failed to create Gemini client: %v\n", err)
		} else {
			start := time.Now()
			resp, err := geminiClient.Complete(ctx, req)
			elapsed := time.Since(start)
			if err != nil {
				fmt.Printf("    Gemini error: %v\n", err)
			} else {
				fmt.Printf("    Gemini response (%v):\n", elapsed.Round(time.Millisecond))
				fmt.Printf("    %s\n", resp.Text)
				fmt.Printf("    Tokens: in=%d, out=%d\n", resp.Usage.InputTokens, resp.Usage.OutputTokens)
			}
		}
	} else {
		fmt.Println("\n[1] Skipping Gemini test (GEMINI_API_KEY not set)")
	}

	fmt.Println("\n[2] Bedrock is exercised via the fallback chain in the full app")
	fmt.Println("    Run the API with BEDROCK_MODEL_ID set and watch for:")
	fmt.Println("    'primary model failed, attempting fallback'")
}
