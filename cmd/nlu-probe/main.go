// Command nlu-probe runs sample caller utterances through each configured
// LLM provider so prompt changes can be eyeballed before a deploy.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/joho/godotenv"

	"github.com/wolfman30/clinic-voice-booking/cmd/mainconfig"
	appconfig "github.com/wolfman30/clinic-voice-booking/internal/config"
	"github.com/wolfman30/clinic-voice-booking/internal/dialogue"
	"github.com/wolfman30/clinic-voice-booking/internal/nlu"
	"github.com/wolfman30/clinic-voice-booking/pkg/logging"
)

var utterances = []string{
	"I'd like to book an appointment for next Tuesday at 11 in the morning",
	"can you move my appointment to the 24th at 4:40 pm",
	"I want to cancel",
	"tomorrow",
}

var spokenEmails = []string{
	"john dot doe at the rate gmail dot com",
	"priya underscore 92 at yahoo dot co dot in",
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}
	cfg := appconfig.Load()
	logger := logging.New("warn")
	rules, err := cfg.Rules()
	if err != nil {
		log.Fatalf("clinic rules: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	providers := map[string]nlu.Completer{}
	if cfg.GeminiAPIKey != "" {
		gemini, err := nlu.NewGemini(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			fmt.Printf("gemini: %v\n", err)
		} else {
			defer gemini.Close()
			providers["gemini"] = gemini
		}
	}
	if cfg.BedrockModelID != "" {
		awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
		if err == nil {
			var bedrock *nlu.Bedrock
			bedrock, err = nlu.NewBedrock(bedrockruntime.NewFromConfig(awsCfg), cfg.BedrockModelID)
			if err == nil {
				providers["bedrock"] = bedrock
			}
		}
		if err != nil {
			fmt.Printf("bedrock: %v\n", err)
		}
	}
	if len(providers) == 0 {
		fmt.Println("set GEMINI_API_KEY or BEDROCK_MODEL_ID to probe a provider")
		os.Exit(1)
	}

	for name, client := range providers {
		fmt.Println(strings.Repeat("=", 60))
		fmt.Printf("%s\n", name)
		fmt.Println(strings.Repeat("=", 60))

		extractor := nlu.NewSlotExtractor(client, rules.Location, logger)
		for _, u := range utterances {
			start := time.Now()
			c := extractor.Extract(ctx, dialogue.IntentUnknown, u)
			fmt.Printf("  %-70q -> intent=%s date=%s time=%s (%v)\n", u, c.Intent, c.Date, c.Time, time.Since(start).Round(time.Millisecond))
		}

		emails := nlu.NewEmailReconstructor(client, logger)
		for _, e := range spokenEmails {
			fmt.Printf("  %-70q -> %s\n", e, emails.ReconstructEmail(ctx, e))
		}
	}
}
