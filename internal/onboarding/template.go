package onboarding

import (
	"fmt"
	"strings"
)

const welcomeTemplate = `## Welcome to Hive, @{{onboarded}}!

You were onboarded by @{{onboarder}}, who sent a small transfer to help you get started.

A few tips for your first days:

- Introduce yourself in the community and tell people what you love to write about.
- Comment on other posts: conversations are how you meet people here.
- Keep your master password and keys offline and never share them.

If you have questions, reply to this comment and @{{onboarder}} or the community team will help.`

// WelcomeComment возвращает текст приветственного комментария в markdown.
func WelcomeComment(onboarded, onboarder string) string {
	r := strings.NewReplacer("{{onboarded}}", onboarded, "{{onboarder}}", onboarder)
	return r.Replace(welcomeTemplate)
}

// TransferMemo возвращает memo перевода, указывающее приглашённый аккаунт.
func TransferMemo(onboarded string) string {
	return fmt.Sprintf("Onboarding @%s", onboarded)
}
