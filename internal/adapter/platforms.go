package adapter

// GenericID is the id of the fallback adapter.
const GenericID = "generic"

var commonSelectors = []string{
	`textarea[placeholder*="输入"]`,
	`textarea[placeholder*="请输入"]`,
	`textarea[placeholder*="Message"]`,
	`textarea[placeholder*="Enter"]`,
	`[contenteditable="true"]`,
	`input[type="text"]`,
	`textarea`,
	`[role="textbox"]`,
}

func chain(specific ...string) []string {
	out := make([]string, 0, len(specific)+len(commonSelectors))
	out = append(out, specific...)
	return append(out, commonSelectors...)
}

// Generic returns the capability-degraded fallback used for unknown sites.
func Generic() Platform {
	return Platform{
		Key:   GenericID,
		Name:  "Generic",
		Chain: chain(`.ant-input`),
	}
}

// Builtins returns the bundled site adapters in resolution order.
func Builtins() []Adapter {
	return []Adapter{
		Platform{
			Key:   "deepseek",
			Name:  "DeepSeek",
			Hosts: []string{"chat.deepseek.com", "deepseek.com"},
			Chain: chain(
				`[placeholder="给 DeepSeek 发送消息"]`,
				`textarea[placeholder="给 DeepSeek 发送消息"]`,
				`input[placeholder="给 DeepSeek 发送消息"]`,
				`[placeholder*="DeepSeek"]`,
				`[placeholder*="发送消息"]`,
				`textarea[placeholder*="DeepSeek"]`,
				`textarea[placeholder*="发送消息"]`,
				`[role="textbox"][aria-label*="DeepSeek"]`,
				`[role="textbox"][aria-label*="发送消息"]`,
			),
		},
		Platform{
			Key:             "chatgpt",
			Name:            "ChatGPT",
			Hosts:           []string{"chat.openai.com", "chatgpt.com"},
			ExternalRouting: true,
			Chain: chain(
				`[placeholder*="Message ChatGPT"]`,
				`[placeholder*="Send a message"]`,
				`textarea[placeholder*="Message ChatGPT"]`,
				`textarea[placeholder*="Send a message"]`,
				`[placeholder*="OpenAI"]`,
				`[placeholder*="ChatGPT"]`,
				`#prompt-textarea`,
				`.ProseMirror`,
				`[data-testid="textbox"]`,
				`[role="textbox"]`,
				`[contenteditable="true"]`,
			),
		},
		Platform{
			Key:             "claude",
			Name:            "Claude",
			Hosts:           []string{"claude.ai", "anthropic.com"},
			ExternalRouting: true,
			Chain: chain(
				`[placeholder*="Talk to Claude"]`,
				`[placeholder*="Message Claude"]`,
				`[placeholder*="Type a message"]`,
				`textarea[placeholder*="Talk to Claude"]`,
				`textarea[placeholder*="Message Claude"]`,
				`[placeholder*="Claude"]`,
				`[placeholder*="Anthropic"]`,
				`.ProseMirror`,
				`[data-testid="chat-input"]`,
				`[data-testid="message-input"]`,
				`[role="textbox"]`,
				`[contenteditable="true"]`,
			),
		},
		Platform{
			Key:             "gemini",
			Name:            "Gemini",
			Hosts:           []string{"gemini.google.com", "bard.google.com", "ai.google.dev"},
			ExternalRouting: true,
			Chain: chain(
				`[placeholder*="Enter a prompt here"]`,
				`[placeholder*="Ask Gemini"]`,
				`[placeholder*="Message Gemini"]`,
				`textarea[placeholder*="Enter a prompt here"]`,
				`textarea[placeholder*="Ask Gemini"]`,
				`[placeholder*="Gemini"]`,
				`[placeholder*="Google"]`,
				`[placeholder*="Bard"]`,
				`.ql-editor`,
				`[data-testid="input-field"]`,
				`[data-testid="chat-input"]`,
				`.ProseMirror`,
				`[role="textbox"]`,
				`[contenteditable="true"]`,
			),
		},
		Platform{
			Key:   "kimi",
			Name:  "Kimi",
			Hosts: []string{"kimi.moonshot.cn", "moonshot.cn"},
			Chain: chain(
				`[placeholder*="请输入你想问的问题"]`,
				`[placeholder*="输入你的问题"]`,
				`[placeholder*="和 Kimi 聊天"]`,
				`textarea[placeholder*="请输入你想问的问题"]`,
				`textarea[placeholder*="输入你的问题"]`,
				`[placeholder*="Kimi"]`,
				`[placeholder*="moonshot"]`,
				`[placeholder*="月之暗面"]`,
				`.chat-input`,
				`[data-testid="chat-input"]`,
				`[data-testid="message-input"]`,
				`[role="textbox"]`,
				`[contenteditable="true"]`,
			),
		},
		Platform{
			Key:   "tongyi",
			Name:  "通义千问",
			Hosts: []string{"tongyi.aliyun.com", "qianwen.aliyun.com", "dashscope.aliyun.com"},
			Chain: chain(
				`[placeholder*="请输入你的问题"]`,
				`[placeholder*="输入你想问的问题"]`,
				`[placeholder*="和通义千问聊天"]`,
				`textarea[placeholder*="请输入你的问题"]`,
				`textarea[placeholder*="输入你想问的问题"]`,
				`[placeholder*="通义千问"]`,
				`[placeholder*="通义"]`,
				`[placeholder*="千问"]`,
				`[placeholder*="阿里云"]`,
				`.chat-input`,
				`.message-input`,
				`[data-testid="chat-input"]`,
				`[data-testid="message-input"]`,
				`[role="textbox"]`,
				`[contenteditable="true"]`,
			),
		},
	}
}
