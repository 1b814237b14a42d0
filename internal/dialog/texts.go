package dialog

import (
	"fmt"
	"strings"

	"github.com/samvad-hq/samvad-notifier/internal/domain"
	"github.com/samvad-hq/samvad-notifier/pkg/platforms"
)

const (
	cmdAdd      = "添加订阅"
	cmdAddEN    = "add"
	cmdDelete   = "删除订阅"
	cmdDeleteEN = "del"
	cmdQuery    = "查询订阅"
	cmdQueryEN  = "query"

	wordAll     = "全部"
	wordAllEN   = "all"
	wordAllTags = "全部标签"
	wordLookup  = "查询"
	wordCancel  = "取消"
)

const (
	msgAddAborted       = "已中止订阅"
	msgDeleteAborted    = "已中止删除"
	msgPlatformError    = "平台输入错误"
	msgTargetPrompt     = "请输入订阅用户的id\n查询id获取方法请回复:“查询”"
	msgTargetError      = "id输入错误"
	msgNoLookupHint     = "该平台暂未提供id查询方法"
	msgTagsPrompt       = "请输入要订阅的tag，订阅所有标签输入“全部标签”"
	msgPersistFailed    = "订阅保存失败，请稍后重试"
	msgNoSubscriptions  = "暂无已订阅账号"
	msgDeleteError      = "删除错误"
	msgDeleteOK         = "删除成功"
	msgDeleteFailed     = "删除失败，请稍后重试"
	msgDeleteGone       = "该订阅已不存在"
	msgListHeader       = "订阅的帐号为：\n"
	msgDeleteIndexAsk   = "请输入要删除的订阅的序号"
	msgNameLookupFailed = "获取平台名称失败，请稍后重试"
)

func isCancel(text string) bool {
	return text == wordCancel || strings.EqualFold(text, "cancel")
}

func isAll(text string) bool {
	return text == wordAll || strings.EqualFold(text, wordAllEN)
}

func (m *Manager) platformPrompt() string {
	var b strings.Builder
	b.WriteString("请输入想要订阅的平台，目前支持，请输入冒号左边的名称：\n")
	for _, a := range m.platforms.All() {
		meta := a.Meta()
		fmt.Fprintf(&b, "%s: %s\n", meta.ID, meta.Name)
	}
	b.WriteString("要查看全部平台请输入：“全部”\n“取消”以中止订阅")
	return b.String()
}

func (m *Manager) allPlatforms() string {
	var b strings.Builder
	b.WriteString("全部平台\n")
	for _, a := range m.platforms.All() {
		meta := a.Meta()
		fmt.Fprintf(&b, "%s: %s\n", meta.ID, meta.Name)
	}
	return strings.TrimRight(b.String(), "\n")
}

func confirmTarget(platform, name string, target domain.Target) string {
	return fmt.Sprintf("即将订阅的用户为:%s %s %s\n如有错误请输入“取消”重新订阅", platform, name, target)
}

func categoriesPrompt(meta platforms.Meta) string {
	return fmt.Sprintf("请输入要订阅的类别，以空格分隔，支持的类别有：%s\n订阅全部请输入“全部”",
		strings.Join(meta.Categories.Labels(), " "))
}

func categoriesError(bad []string) string {
	return fmt.Sprintf("不支持的类别：%s，请重新输入", strings.Join(bad, " "))
}

func subscribed(name string) string {
	return fmt.Sprintf("添加 %s 成功", name)
}

// describe renders a subscription as "platform name target" plus its filters.
func (m *Manager) describe(sub domain.Subscription) (head, filters string) {
	head = fmt.Sprintf("%s %s %s", sub.Platform, sub.TargetName, sub.Target)

	a, ok := m.platforms.Get(sub.Platform)
	if !ok {
		return head, ""
	}
	meta := a.Meta()
	var parts []string
	if meta.Categories.Len() > 0 {
		labels := make([]string, 0, len(sub.Categories))
		for _, c := range sub.Categories {
			if label, ok := meta.Categories.Label(c); ok {
				labels = append(labels, label)
			} else {
				labels = append(labels, fmt.Sprint(int(c)))
			}
		}
		parts = append(parts, "["+strings.Join(labels, ", ")+"]")
	}
	if meta.TagSupport && len(sub.Tags) > 0 {
		parts = append(parts, strings.Join(sub.Tags, " "))
	}
	return head, strings.Join(parts, " ")
}
