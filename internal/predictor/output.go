package predictor

import (
	"bufio"
	"bytes"
	"encoding/json"
	"strings"
)

// result 预测程序输出的 JSON 行：{"bp": 118.5} 或 {"error": "..."}
type result struct {
	BP    *float64 `json:"bp"`
	Error *string  `json:"error"`
}

// ParseOutput 从预测程序完整的标准输出中提取血压值
//
// 选取第一行以 "{" 开头的文本解析，其它行（警告、日志）忽略。
func ParseOutput(stdout []byte) (float64, error) {
	line, ok := firstJSONLine(stdout)
	if !ok {
		return 0, &PredictError{Kind: KindParseFailure, Message: "no JSON output found"}
	}

	var res result
	if err := json.Unmarshal([]byte(line), &res); err != nil {
		return 0, &PredictError{Kind: KindParseFailure, Message: "invalid JSON output", Err: err}
	}

	if res.Error != nil && *res.Error != "" {
		return 0, &PredictError{Kind: KindLogicalFailure, Message: *res.Error}
	}
	if res.BP == nil {
		return 0, &PredictError{Kind: KindParseFailure, Message: "no bp value returned"}
	}

	return *res.BP, nil
}

// ErrorMessage 提取输出中的 error 字段（非零退出时用于日志）
func ErrorMessage(stdout []byte) string {
	line, ok := firstJSONLine(stdout)
	if !ok {
		return ""
	}
	var res result
	if err := json.Unmarshal([]byte(line), &res); err != nil || res.Error == nil {
		return ""
	}
	return *res.Error
}

func firstJSONLine(stdout []byte) (string, bool) {
	scanner := bufio.NewScanner(bytes.NewReader(stdout))
	scanner.Buffer(make([]byte, 0, 4096), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(line, "{") {
			return line, true
		}
	}
	return "", false
}
