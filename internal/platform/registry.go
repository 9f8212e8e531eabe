// Package platform holds the per-platform page knowledge: where to log in,
// how to tell a live session from a dead one, and how to drive the upload
// form.
package platform

import (
	"fmt"
	"strings"
	"time"

	"omnipost/internal/domain"
	"omnipost/internal/ports"
)

// Probe describes the authenticated entry point used to validate a
// credential. A session is dead when the landing URL contains SignInRedirect,
// when ExpectURL is set and never reached, or when SignInMarker shows up.
type Probe struct {
	EntryURL       string
	ExpectURL      string
	SignInRedirect string
	SignInMarker   ports.Selector
}

// LoginPage is the QR challenge page. Steps are clicked in order before the
// QR element is read.
type LoginPage struct {
	URL    string
	Steps  []ports.Selector
	QRCode ports.Selector
	QRAttr string
}

// UploadPage drives the platform's publish form. Optional selectors are left
// zero where the platform has no such field.
type UploadPage struct {
	URL            string
	FileInput      ports.Selector
	Title          ports.Selector
	Tags           ports.Selector
	MaxTags        int
	ScheduleToggle ports.Selector
	ScheduleInput  ports.Selector
	Publish        ports.Selector
	Confirm        ports.Selector
	DonePrefix     string
	UploadWait     time.Duration
	PublishWait    time.Duration
}

type Spec struct {
	Platform domain.Platform
	Login    LoginPage
	Probe    Probe
	Upload   UploadPage
}

// Table is the platform→page knowledge. Validate must accept it before use.
type Table map[domain.Platform]Spec

func Default() Table {
	return Table{
		domain.PlatformXiaohongshu: {
			Platform: domain.PlatformXiaohongshu,
			Login: LoginPage{
				URL:    "https://creator.xiaohongshu.com/",
				Steps:  []ports.Selector{ports.CSS("img.css-wemwzq")},
				QRCode: ports.XPath("(//img)[3]"),
				QRAttr: "src",
			},
			Probe: Probe{
				EntryURL:     "https://creator.xiaohongshu.com/creator-micro/content/upload",
				ExpectURL:    "https://creator.xiaohongshu.com/creator-micro/content/upload",
				SignInMarker: ports.Text("手机号登录", "扫码登录"),
			},
			Upload: UploadPage{
				URL:            "https://creator.xiaohongshu.com/publish/publish?from=homepage&target=video",
				FileInput:      ports.CSS("div[class^='upload-content'] input.upload-input"),
				Title:          ports.CSS("div.plugin.title-container input.d-text"),
				Tags:           ports.CSS(".ql-editor"),
				MaxTags:        10,
				ScheduleToggle: ports.XPath(`//label[contains(., "定时发布")]`),
				ScheduleInput:  ports.CSS(`.el-input__inner[placeholder="选择日期和时间"]`),
				Publish:        ports.XPath(`//button[contains(., "发布")]`),
				DonePrefix:     "https://creator.xiaohongshu.com/publish/success",
			},
		},
		domain.PlatformTencent: {
			Platform: domain.PlatformTencent,
			Login: LoginPage{
				URL:    "https://channels.weixin.qq.com",
				QRCode: ports.CSS("iframe"),
				QRAttr: "src",
			},
			Probe: Probe{
				EntryURL:     "https://channels.weixin.qq.com/platform/post/create",
				SignInMarker: ports.XPath(`//div[contains(@class, "title-name") and contains(., "微信小店")]`),
			},
			Upload: UploadPage{
				URL:            "https://channels.weixin.qq.com/platform/post/create",
				FileInput:      ports.CSS(`input[type="file"]`),
				Title:          ports.CSS(`input[placeholder*="概括视频主要内容"]`),
				Tags:           ports.CSS("div.input-editor"),
				MaxTags:        10,
				ScheduleToggle: ports.XPath(`//label[contains(., "定时")]/following-sibling::div//label[2]`),
				ScheduleInput:  ports.CSS(`input[placeholder="请选择发表时间"]`),
				Publish:        ports.XPath(`//button[contains(., "发表")]`),
				DonePrefix:     "https://channels.weixin.qq.com/platform/post/list",
			},
		},
		domain.PlatformDouyin: {
			Platform: domain.PlatformDouyin,
			Login: LoginPage{
				URL:    "https://creator.douyin.com/",
				QRCode: ports.CSS(`img[aria-label="二维码"], img[alt="二维码"]`),
				QRAttr: "src",
			},
			Probe: Probe{
				EntryURL:     "https://creator.douyin.com/creator-micro/content/upload",
				ExpectURL:    "https://creator.douyin.com/creator-micro/content/upload",
				SignInMarker: ports.Text("扫码登录"),
			},
			Upload: UploadPage{
				URL:            "https://creator.douyin.com/creator-micro/content/upload",
				FileInput:      ports.CSS(`div[class^="container"] input[type="file"]`),
				Title:          ports.CSS(`input[placeholder*="填写作品标题"]`),
				Tags:           ports.CSS(".zone-container"),
				MaxTags:        5,
				ScheduleToggle: ports.XPath(`//label[contains(., "定时发布")]`),
				ScheduleInput:  ports.CSS(`.semi-input[placeholder="日期和时间"]`),
				Publish:        ports.XPath(`//button[normalize-space(.)="发布"]`),
				DonePrefix:     "https://creator.douyin.com/creator-micro/content/manage",
			},
		},
		domain.PlatformKuaishou: {
			Platform: domain.PlatformKuaishou,
			Login: LoginPage{
				URL: "https://cp.kuaishou.com",
				Steps: []ports.Selector{
					ports.XPath(`//a[contains(., "立即登录")]`),
					ports.Text("扫码登录"),
				},
				QRCode: ports.CSS(`img[alt="qrcode"], img[aria-label="qrcode"]`),
				QRAttr: "src",
			},
			Probe: Probe{
				EntryURL:     "https://cp.kuaishou.com/article/publish/video",
				SignInMarker: ports.Text("机构服务"),
			},
			Upload: UploadPage{
				URL:            "https://cp.kuaishou.com/article/publish/video",
				FileInput:      ports.CSS(`input[type="file"]`),
				Title:          ports.XPath(`//*[text()="描述"]/following-sibling::div`),
				Tags:           ports.XPath(`//*[text()="描述"]/following-sibling::div`),
				MaxTags:        3,
				ScheduleToggle: ports.XPath(`(//label[contains(., "发布时间")]/following-sibling::div//input[contains(@class, "ant-radio-input")])[2]`),
				ScheduleInput:  ports.CSS(`div.ant-picker-input input[placeholder="选择日期时间"]`),
				Publish:        ports.XPath(`//*[normalize-space(text())="发布"]`),
				Confirm:        ports.Text("确认发布"),
				DonePrefix:     "https://cp.kuaishou.com/article/manage/video",
			},
		},
		domain.PlatformBilibili: {
			Platform: domain.PlatformBilibili,
			Login: LoginPage{
				URL:    "https://member.bilibili.com/platform/home",
				QRCode: ports.CSS("div.login-scan-box img"),
				QRAttr: "src",
			},
			Probe: Probe{
				EntryURL:       "https://member.bilibili.com/platform/home",
				SignInRedirect: "passport.bilibili.com",
			},
			Upload: UploadPage{
				URL:       "https://member.bilibili.com/platform/upload/video/frame",
				FileInput: ports.CSS(`input[type="file"]`),
				Title:     ports.CSS(`input[placeholder*="标题"], .video-title input`),
				Tags:      ports.CSS(`.tag-container input, .video-tag input, input[placeholder*="标签"]`),
				MaxTags:   10,
				Publish:   ports.CSS(`.submit-container .cc-btn, .submit-btn`),
				// no landing page after submit; give the request time to leave
				PublishWait: 5 * time.Second,
			},
		},
	}
}

// Validate fails unless every platform in domain.Platforms has a complete
// entry.
func (t Table) Validate() error {
	var missing []string
	for _, p := range domain.Platforms {
		s, ok := t[p]
		switch {
		case !ok:
			missing = append(missing, p.String())
		case s.Platform != p:
			missing = append(missing, fmt.Sprintf("%s (registered as %s)", p, s.Platform))
		case s.Login.URL == "" || s.Login.QRCode.IsZero():
			missing = append(missing, p.String()+" login page")
		case s.Probe.EntryURL == "":
			missing = append(missing, p.String()+" probe")
		case s.Upload.URL == "" || s.Upload.FileInput.IsZero() || s.Upload.Publish.IsZero():
			missing = append(missing, p.String()+" upload page")
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("platform table incomplete: %s", strings.Join(missing, ", "))
	}
	return nil
}

func (t Table) Lookup(p domain.Platform) (Spec, error) {
	s, ok := t[p]
	if !ok {
		return Spec{}, &domain.ValidationError{Field: "type", Reason: fmt.Sprintf("unsupported platform %s", p)}
	}
	return s, nil
}
