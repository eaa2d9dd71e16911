package config

import "time"

const (
	defaultSystemPrompt = "用简明骇要的方式锐评以下聊天记录，抓住聊天记录中的重点与人物。请将**聊天参与者（群友）的名字**用反引号（`）包裹，将**对话重点**用加粗（**）包裹。不要有化名或者当事人等隐藏的信息"

	defaultIdentifyPrompt = `请识别这张图片的内容，并以 Markdown 格式输出，直接输出内容，不要有其他信息。

**要求：**
1. 如果这是动漫/游戏角色图片，请提供：
   - **作品名称**
   - **角色名字**
   - **角色简介**（简短描述角色特点）
   - **图片出处**（如果能找到）

2. 如果不是动漫图片，请详细描述或解析图片内容

使用 Markdown 格式输出，包括标题、加粗、列表等。`
)

func Defaults() *Config {
	return &Config{
		OneBot: OneBotConfig{
			URL:                   "ws://127.0.0.1:3001",
			ActionTimeoutSeconds:  30,
			ReconnectDelaySeconds: 5,
		},
		LLM: LLMConfig{
			APIBase:        "https://api.openai.com/v1",
			Model:          "gpt-4o-mini",
			TimeoutSeconds: 120,
			MaxRetries:     2,
		},
		Prompts: PromptsConfig{
			System:   defaultSystemPrompt,
			Identify: defaultIdentifyPrompt,
		},
		Triggers: TriggersConfig{
			Summarize: "总结",
			Identify:  "看看这是谁",
		},
		Retry: RetryConfig{
			TopLevel: BudgetConfig{Attempts: 3, BaseDelayMs: 1000},
			Nested:   BudgetConfig{Attempts: 2, BaseDelayMs: 500},
		},
		Extract: ExtractConfig{
			MaxDepth: 10,
		},
		Render: RenderConfig{
			Enabled:        true,
			Width:          720,
			TimeoutSeconds: 30,
		},
		Dispatch: DispatchConfig{
			Concurrency:   4,
			RateBurst:     3,
			RatePerMinute: 6,
		},
		Admin: AdminConfig{
			Enabled: false,
			Addr:    "127.0.0.1:9464",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Millis converts a milliseconds field to a duration.
func Millis(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}

// Seconds converts a seconds field to a duration.
func Seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
