package advisor

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tidwall/gjson"

	"crest/internal/pkg/jsonutil"
)

// 模型响应的约定结构。价格字段允许 null，中性信号下通常为 null。
const opinionSchemaJSON = `{
  "type": "object",
  "required": ["signal", "reason", "confidence"],
  "properties": {
    "signal": {"type": "string", "enum": ["long", "short", "neutral"]},
    "reason": {"type": "string"},
    "confidence": {"type": "integer", "minimum": 0, "maximum": 100},
    "suggested_entry_price": {"type": ["number", "null"]},
    "suggested_stop_loss": {"type": ["number", "null"]},
    "suggested_take_profit": {"type": ["number", "null"]}
  }
}`

var (
	opinionSchemaOnce sync.Once
	opinionSchema     *jsonschema.Schema
	opinionSchemaErr  error
)

func compiledOpinionSchema() (*jsonschema.Schema, error) {
	opinionSchemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("opinion.json", strings.NewReader(opinionSchemaJSON)); err != nil {
			opinionSchemaErr = err
			return
		}
		opinionSchema, opinionSchemaErr = compiler.Compile("opinion.json")
	})
	return opinionSchema, opinionSchemaErr
}

// ParseOpinion 从模型原始输出中抽取 JSON，过 Schema 校验后转成 Opinion。
// 响应不合法返回错误，绝不恐慌。
func ParseOpinion(raw string) (Opinion, error) {
	payload, ok := jsonutil.ExtractJSON(raw)
	if !ok || !gjson.Valid(payload) {
		return Opinion{}, fmt.Errorf("顾问响应不含合法 JSON: %.120s", strings.TrimSpace(raw))
	}
	schema, err := compiledOpinionSchema()
	if err != nil {
		return Opinion{}, err
	}
	var doc any
	if err := json.Unmarshal([]byte(payload), &doc); err != nil {
		return Opinion{}, fmt.Errorf("顾问响应解析失败: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return Opinion{}, fmt.Errorf("顾问响应不符合约定结构: %w", err)
	}

	root := gjson.Parse(payload)
	op := Opinion{
		Direction:  root.Get("signal").String(),
		Confidence: int(root.Get("confidence").Int()),
		Reason:     strings.TrimSpace(root.Get("reason").String()),
		Entry:      root.Get("suggested_entry_price").Float(),
		Stop:       root.Get("suggested_stop_loss").Float(),
		Target:     root.Get("suggested_take_profit").Float(),
	}
	if op.Direction == DirectionNeutral {
		// 中性信号下的价格建议无意义，清零防止被误用
		op.Entry, op.Stop, op.Target = 0, 0, 0
	}
	return op, nil
}
