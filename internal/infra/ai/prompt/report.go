package prompt

import (
	"encoding/json"
	"fmt"

	domain "github.com/qtrade-labs/insight-api/internal/domain/reports"
)

// SystemPrompt pins the analyst persona. The product surface is Chinese, so
// the prompt is too.
func SystemPrompt() string {
	return "你是一位专业的金融交易心理分析师和性格分析专家。"
}

// UserPrompt embeds the subject identity and the ordered Q&A list. The
// answers are serialized as indented JSON so the model sees question, answer
// and answering time per entry.
func UserPrompt(req domain.AnalysisRequest) string {
	answers, err := json.MarshalIndent(req.Answers, "", "  ")
	if err != nil {
		// QuestionAnswer is plain strings and ints; this cannot happen in
		// practice, but keep the prompt usable anyway.
		answers = []byte("[]")
	}

	return fmt.Sprintf(`请基于以下问卷回答分析用户的性格和可能的交易习惯。
给出详细、专业的分析结果，并提供针对性的建议。
分析需要包含以下几个部分：
1. 用户性格特点
2. 交易风格倾向
3. 风险承受能力
4. 决策模式
5. 情绪控制能力
6. 针对性的改进建议

用户信息：
用户ID：%d
用户名：%s

问卷回答：
%s`, req.SubjectID, req.DisplayName, answers)
}
