/*
Copyright © 2025 Valentyn Solomko <valentyn.solomko@gmail.com>

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/valpere/llmvalues/internal/config"
	"github.com/valpere/llmvalues/internal/cost"
	"github.com/valpere/llmvalues/internal/llm"
	"github.com/valpere/llmvalues/internal/orchestrator"
	"github.com/valpere/llmvalues/internal/store"
	"github.com/valpere/llmvalues/internal/translator"
	"github.com/valpere/llmvalues/internal/validator"
	"github.com/valpere/llmvalues/internal/workpool"
)

var (
	params  = orchestrator.DefaultRunParams()
	autoYes bool
)

// addRunFlags registers the per-run parameters on cmd.
func addRunFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&params.Topic, "topic", "un_global_issues", "Topic name or file alias")
	f.StringVar(&params.Description, "description", "", "Topic description")
	f.StringVar((*string)(&params.Mode), "mode", string(params.Mode), "Question mode: priorities, values or claims")
	f.StringVar(&params.Model, "model", params.Model, "Model to query")
	f.Float64Var(&params.Temperature, "temperature", params.Temperature, "Sampling temperature")
	f.IntVar(&params.MaxTokens, "max-tokens", params.MaxTokens, "Token budget stated in the instructions")
	f.IntVar(&params.NumQueries, "num-queries", params.NumQueries, "Repetitions per question and language")
	f.BoolVar(&params.QuestionEnglish, "question-english", false, "Ask the question in English, answer in the target language")
	f.BoolVar(&params.AnswerEnglish, "answer-english", false, "Ask in the target language, answer in English")
	f.BoolVar(&params.RatingLast, "rating-last", false, "Rating after the explanation")
	f.BoolVar(&params.Testing, "testing", false, "Only the first question, one repetition")
	f.BoolVar(&params.Overwrite, "overwrite", false, "Replace existing answers and translations")
	f.Float64Var(&params.Budget, "budget", params.Budget, "Budget in USD before confirmation is required")
	f.BoolVarP(&autoYes, "yes", "y", false, "Proceed without confirmation when over budget")
}

// app owns everything a pipeline command needs for one run.
type app struct {
	store   *store.Store
	orch    *orchestrator.Orchestrator
	closers []func() error
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			logger.WithError(err).Warn("Close failed")
		}
	}
}

func buildRegistry(c *config.Config) *llm.Registry {
	policy := llm.RetryPolicy{
		MaxAttempts: c.Retry.MaxAttempts,
		BaseDelay:   c.Retry.BaseDelay,
		MaxDelay:    c.Retry.MaxDelay,
	}
	wrap := func(next llm.Completer) llm.Completer {
		return llm.NewRetrying(next, policy, logger)
	}

	p := c.Providers
	r := llm.NewRegistry()
	if p.OpenAIKey != "" {
		r.Register(llm.OpenAI, wrap(llm.NewOpenAIClient(p.OpenAIKey, "")))
	}
	if p.AnthropicKey != "" {
		r.Register(llm.Anthropic, wrap(llm.NewAnthropicClient(p.AnthropicKey, "")))
	}
	if p.MistralKey != "" {
		r.Register(llm.Mistral, wrap(llm.NewMistralClient(p.MistralKey, "")))
	}
	if p.DeepSeekKey != "" {
		r.Register(llm.DeepSeek, wrap(llm.NewDeepSeekClient(p.DeepSeekKey, "")))
	}
	if p.OpenRouterKey != "" {
		r.Register(llm.OpenRouter, wrap(llm.NewOpenRouterClient(p.OpenRouterKey, "")))
	}
	r.Register(llm.Ollama, wrap(llm.NewOllamaClient(p.OllamaURL)))
	return r
}

// budgetPolicy asks on the terminal when there is one.
// checkOllama fails early when a local model is requested but the server is down.
func checkOllama(ctx context.Context, models ...string) error {
	for _, m := range models {
		if b, err := llm.BackendFor(m); err == nil && b == llm.Ollama {
			if err := llm.NewOllamaClient(cfg.Providers.OllamaURL).IsAvailable(ctx); err != nil {
				return fmt.Errorf("model %s: %w", m, err)
			}
			return nil
		}
	}
	return nil
}

func budgetPolicy() cost.Policy {
	if autoYes {
		return cost.AutoApprove
	}
	if fi, err := os.Stdin.Stat(); err == nil && fi.Mode()&os.ModeCharDevice != 0 {
		return cost.Prompt(os.Stdin, os.Stderr)
	}
	return cost.AutoDeny
}

func openStore() (*store.Store, error) {
	db, err := store.New(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}

func newApp(ctx context.Context) (*app, error) {
	db, err := openStore()
	if err != nil {
		return nil, err
	}
	a := &app{store: db, closers: []func() error{db.Close}}

	var memo translator.Memo = db
	if cfg.Cache.Backend == "redis" {
		rm, err := store.NewRedisMemo(cfg.Cache.RedisURL, cfg.Cache.RedisTTL)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to configure redis: %w", err)
		}
		if err := rm.Ping(ctx); err != nil {
			a.Close()
			return nil, fmt.Errorf("redis not reachable: %w", err)
		}
		a.closers = append(a.closers, rm.Close)
		memo = rm
	}

	registry := buildRegistry(cfg)
	logger.WithField("backends", registry.Backends()).Debug("Model backends registered")
	if err := checkOllama(ctx, cfg.Translation.Model, params.Model); err != nil {
		a.Close()
		return nil, err
	}

	var provider translator.Provider
	switch cfg.Translation.Provider {
	case "google":
		gp, err := translator.NewGoogleProvider(ctx, cfg.Translation.Credentials)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, gp.Close)
		provider = gp
	default:
		if _, err := registry.Resolve(cfg.Translation.Model); err != nil {
			a.Close()
			return nil, fmt.Errorf("translation model: %w", err)
		}
		provider = translator.NewLLMProvider(registry, cfg.Translation.Model)
	}

	pool := workpool.New(workpool.Config{Size: cfg.Pool.Size, CallTimeout: cfg.Pool.CallTimeout})

	var opts []translator.Option
	if cfg.Translation.Validate {
		opts = append(opts, translator.WithValidator(validator.New(cfg.Languages...)))
	}
	tr := translator.New(provider, memo, pool, logger, opts...)

	setups := make([]orchestrator.SetupSpec, 0, len(cfg.Setups))
	for _, su := range cfg.Setups {
		setups = append(setups, orchestrator.SetupSpec{Name: su.Name, Config: su.QueryConfig, Topics: su.Topics})
	}

	a.orch = orchestrator.New(orchestrator.Deps{
		Repo:       db,
		Registry:   registry,
		Translator: tr,
		Formats:    db,
		Guard:      cost.NewGuard(cfg.PriceTable(), cost.NewTokenizer(), budgetPolicy(), logger),
		Pool:       pool,
	}, orchestrator.Config{
		Languages:    cfg.Languages,
		Source:       cfg.SourceLanguage,
		ResourcesDir: cfg.ResourcesDir,
		Setups:       setups,
	}, logger)

	return a, nil
}
