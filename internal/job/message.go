package job

import (
	"fmt"

	"golang.org/x/text/language"
)

var (
	supportedLanguages = []language.Tag{language.English, language.Korean}
	languageMatcher    = language.NewMatcher(supportedLanguages)
	koreanBase, _      = language.Korean.Base()
)

// MatchLanguage picks a message language from an Accept-Language header.
// English is the fallback.
func MatchLanguage(acceptLanguage string) language.Tag {
	tags, _, err := language.ParseAcceptLanguage(acceptLanguage)
	if err != nil || len(tags) == 0 {
		return language.English
	}
	tag, _, _ := languageMatcher.Match(tags...)
	if base, _ := tag.Base(); base == koreanBase {
		return language.Korean
	}
	return language.English
}

// HumanMessage describes a job state for people. It only depends on its arguments.
func HumanMessage(status Status, progress int, errorMessage string, lang language.Tag) string {
	korean := lang == language.Korean
	switch status {
	case StatusPending:
		if korean {
			return "영상 생성 준비 중..."
		}
		return "Preparing video generation..."
	case StatusProcessing:
		if korean {
			return fmt.Sprintf("영상 생성 중... %d%%", progress)
		}
		return fmt.Sprintf("Generating video... %d%%", progress)
	case StatusCompleted:
		if korean {
			return "영상 생성 완료!"
		}
		return "Video ready!"
	case StatusFailed:
		if korean {
			return "영상 생성 실패: " + errorMessage
		}
		return "Video generation failed: " + errorMessage
	default:
		return string(status)
	}
}
