package parser

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/Yohanamtesfaye/emma-care-backend/internal/models"
)

// linePattern 传感器输出格式：HR: 72.0 bpm | SpO2: 98.0 % | Temp: 36.8 C
var linePattern = regexp.MustCompile(
	`(?i)HR:\s*([\d.]+)\s*bpm\s*\|\s*SpO2:\s*([\d.]+)\s*%\s*\|\s*Temp:\s*([\d.]+)\s*C`,
)

// Fields 从一行中提取的三个原始数值
type Fields struct {
	HeartRate   float64
	SpO2        float64
	Temperature float64
}

// ParseLine 解析一行遥测文本
//
// 格式不匹配或数值无法解析时返回 models.ErrMalformedLine。
func ParseLine(line string) (Fields, error) {
	match := linePattern.FindStringSubmatch(strings.TrimSpace(line))
	if match == nil {
		return Fields{}, models.ErrMalformedLine
	}

	values := make([]float64, 3)
	for i := range values {
		v, err := strconv.ParseFloat(match[i+1], 64)
		if err != nil {
			return Fields{}, fmt.Errorf("%w: field %q: %v", models.ErrMalformedLine, match[i+1], err)
		}
		values[i] = v
	}

	return Fields{
		HeartRate:   values[0],
		SpO2:        values[1],
		Temperature: values[2],
	}, nil
}

// Validate 检查生理范围：心率 > 0，0 < SpO2 <= 100，体温不限
func Validate(f Fields) error {
	if f.HeartRate <= 0 || f.SpO2 <= 0 || f.SpO2 > 100 {
		return fmt.Errorf("%w: hr=%g spo2=%g", models.ErrOutOfRange, f.HeartRate, f.SpO2)
	}
	return nil
}

// Parse 解析并校验一行，成功时返回不含血压的 Reading
func Parse(line string) (*models.Reading, error) {
	f, err := ParseLine(line)
	if err != nil {
		return nil, err
	}
	if err := Validate(f); err != nil {
		return nil, err
	}
	return &models.Reading{
		HeartRate:   f.HeartRate,
		SpO2:        f.SpO2,
		Temperature: f.Temperature,
		Source:      models.SourceUnavailable,
	}, nil
}
