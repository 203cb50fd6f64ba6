package agent

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"trades-companion/internal/order"
)

const intentTemplate = `
你是一个加密货币交易助手，负责把用户的话解析为条件单操作。

可交易代币：{{ .Symbols }}
默认计价代币：{{ .DefaultBase }}

用户当前的有效条件单：
{{- if .Orders }}
{{- range .Orders }}
- id={{ .ID }} 类型={{ .Type }} 代币={{ .Token }} 数量={{ .Amount }} 触发价={{ .TriggerPrice }} {{ .BaseToken }}
{{- end }}
{{- else }}
- 无
{{- end }}

用户输入：
{{ .Text }}

规则：
1. limit_buy：价格跌到触发价或以下时买入 amount 个 token；
2. limit_sell：价格涨到触发价或以上时卖出 amount 个 token；
3. stop_loss：价格跌到触发价或以下时卖出 amount 个 token；
4. 撤单时 order_id 必须取自上面的有效条件单；
5. 信息不足或与交易无关时 action 返回 none，并在 reply 中说明需要补充什么。

请严格输出唯一的 JSON 对象，格式如下：
{
  "action": "place|cancel|list|none",
  "type": "limit_buy|limit_sell|stop_loss",
  "token": "SOL",
  "base_token": "USDC",
  "amount": 0.0,
  "trigger_price": 0.0,
  "expires_in_hours": 0,
  "order_id": "",
  "reply": "给用户的简短中文回复"
}
`

var tmpl = template.Must(template.New("intent").Parse(intentTemplate))

// PromptContext 用于渲染提示词。
type PromptContext struct {
	Text        string
	Symbols     string
	DefaultBase string
	Orders      []order.Order
}

// BuildPrompt 将用户输入与有效订单渲染成提示词字符串。
func BuildPrompt(text string, symbols []string, defaultBase string, active []order.Order) (string, error) {
	ctx := PromptContext{
		Text:        strings.TrimSpace(text),
		Symbols:     strings.Join(symbols, ", "),
		DefaultBase: defaultBase,
		Orders:      active,
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, ctx); err != nil {
		return "", fmt.Errorf("agent: 渲染提示词失败: %w", err)
	}

	return buf.String(), nil
}
