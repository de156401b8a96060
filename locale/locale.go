// Package locale holds the user-visible strings in every supported language.
package locale

import "fmt"

// Strings is the set of texts for one language.
type Strings struct {
	// Footer labels
	Source     string
	VKPost     string
	VKRepost   string
	VKPlaylist string

	// Buttons and counters
	GoToPost     string
	GoToPlaylist string
	PlaylistSoon string
	OutOf        string

	// Bot replies
	Hello             string
	NoPermission      string
	PermissionFailed  string
	WaitingForLink    string
	IncorrectLink     string
	Cancelled         string
	ClickButton       string
	Searching         string
	PostNotFound      string
	PostIsDonut       string
	PostIsAd          string
	PlaylistNotFound  string
	PlaylistNotReady  string
	LookupFailed      string
	AlreadyQueued     string
	AlreadyStarted    string
	ConfirmForward    string
	AddedToQueue      string
	PlaylistsDisabled string
	Yes               string
	Cancel            string
}

var languages = map[string]Strings{
	"en": {
		Source:     "Source",
		VKPost:     "VK post",
		VKRepost:   "VK repost",
		VKPlaylist: "VK playlist",

		GoToPost:     "Go to post",
		GoToPlaylist: "Go to playlist",
		PlaylistSoon: "🔊 Playlist is coming soon",
		OutOf:        "of",

		Hello:             "Hi! I forward VK posts and playlists to the channel.",
		NoPermission:      "You are not allowed to post to the channel.",
		PermissionFailed:  "Could not check your permissions, try again later.",
		WaitingForLink:    "Send me a link to a VK post or playlist.",
		IncorrectLink:     "Incorrect link. Examples:\nhttps://vk.com/wall-1_2\nhttps://vk.com/music/playlist/-1_2",
		Cancelled:         "Cancelled.",
		ClickButton:       "Please use the buttons above.",
		Searching:         "Looking it up...",
		PostNotFound:      "The post was not found in VK or is not accessible.",
		PostIsDonut:       "The post is for VK Donut subscribers only and cannot be forwarded.",
		PostIsAd:          "The post is marked as advertising and is ignored.",
		PlaylistNotFound:  "The playlist was not found in VK or is not accessible.",
		PlaylistNotReady:  "The playlist is still being uploaded, check back later.",
		LookupFailed:      "Could not reach VK, try again later.",
		AlreadyQueued:     "This item is already waiting in the queue. Forward it again anyway?",
		AlreadyStarted:    "This item is being forwarded right now. Forward it again anyway?",
		ConfirmForward:    "Found it. Forward to the channel?",
		AddedToQueue:      "Added to the queue.",
		PlaylistsDisabled: "Playlist forwarding is not configured.",
		Yes:               "Yes",
		Cancel:            "Cancel",
	},
	"ru": {
		Source:     "Источник",
		VKPost:     "Пост ВК",
		VKRepost:   "Репост ВК",
		VKPlaylist: "Плейлист ВК",

		GoToPost:     "Перейти к посту",
		GoToPlaylist: "Перейти к плейлисту",
		PlaylistSoon: "🔊 Плейлист скоро появится",
		OutOf:        "из",

		Hello:             "Привет! Я пересылаю посты и плейлисты ВК в канал.",
		NoPermission:      "У вас нет прав на публикацию в канале.",
		PermissionFailed:  "Не удалось проверить права, попробуйте позже.",
		WaitingForLink:    "Пришлите ссылку на пост или плейлист ВК.",
		IncorrectLink:     "Неверная ссылка. Примеры:\nhttps://vk.com/wall-1_2\nhttps://vk.com/music/playlist/-1_2",
		Cancelled:         "Отменено.",
		ClickButton:       "Воспользуйтесь кнопками выше.",
		Searching:         "Ищу...",
		PostNotFound:      "Пост не найден в ВК или недоступен.",
		PostIsDonut:       "Пост доступен только подписчикам VK Donut и не может быть переслан.",
		PostIsAd:          "Пост помечен как рекламный и пропущен.",
		PlaylistNotFound:  "Плейлист не найден в ВК или недоступен.",
		PlaylistNotReady:  "Плейлист ещё загружается, загляните позже.",
		LookupFailed:      "Не удалось связаться с ВК, попробуйте позже.",
		AlreadyQueued:     "Уже стоит в очереди. Всё равно переслать ещё раз?",
		AlreadyStarted:    "Сейчас пересылается. Всё равно переслать ещё раз?",
		ConfirmForward:    "Нашёл. Переслать в канал?",
		AddedToQueue:      "Добавлено в очередь.",
		PlaylistsDisabled: "Пересылка плейлистов не настроена.",
		Yes:               "Да",
		Cancel:            "Отмена",
	},
}

// DefaultLanguage is used when no language is configured.
const DefaultLanguage = "en"

// For returns the strings of lang.
func For(lang string) (Strings, error) {
	if lang == "" {
		lang = DefaultLanguage
	}
	s, ok := languages[lang]
	if !ok {
		return Strings{}, fmt.Errorf("unsupported language %q", lang)
	}
	return s, nil
}

// Supported reports whether lang has a translation.
func Supported(lang string) bool {
	_, ok := languages[lang]
	return ok
}

// Range formats an "X-Y of N" batch counter.
func (s Strings) Range(from, to, total int) string {
	return fmt.Sprintf("%d-%d %s %d", from, to, s.OutOf, total)
}
