package plugin

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/LENAX/async-task/pkg/core/manager"
)

// EmailPluginName 邮件插件名称
const EmailPluginName = "email"

type sendMailFunc func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error

// EmailPlugin 作业事件邮件通知插件（对外导出）
type EmailPlugin struct {
	smtpHost string
	smtpPort int
	username string
	password string
	from     string
	to       []string
	enabled  bool

	logger   *zap.Logger
	sendMail sendMailFunc
}

// NewEmailPlugin 创建邮件插件
func NewEmailPlugin(logger *zap.Logger) *EmailPlugin {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EmailPlugin{logger: logger, sendMail: smtp.SendMail}
}

// Name 插件名称
func (e *EmailPlugin) Name() string {
	return EmailPluginName
}

// Init 初始化插件
// 参数：smtp_host、smtp_port（默认25）、username、password、from、to（逗号分隔）
func (e *EmailPlugin) Init(params map[string]string) error {
	e.smtpHost = params["smtp_host"]
	if e.smtpHost == "" {
		return errors.New("smtp_host参数不能为空")
	}

	e.smtpPort = 25
	if portStr := params["smtp_port"]; portStr != "" {
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return errors.Wrap(err, "smtp_port参数格式错误")
		}
		e.smtpPort = port
	}

	e.username = params["username"]
	e.password = params["password"]

	e.from = params["from"]
	if e.from == "" {
		return errors.New("from参数不能为空")
	}

	e.to = e.to[:0]
	for _, addr := range strings.Split(params["to"], ",") {
		if addr = strings.TrimSpace(addr); addr != "" {
			e.to = append(e.to, addr)
		}
	}
	if len(e.to) == 0 {
		return errors.New("to参数不能为空")
	}

	e.enabled = true
	e.logger.Info("✅ [EmailPlugin] 初始化完成",
		zap.String("smtp", e.addr()),
		zap.String("from", e.from),
		zap.Strings("to", e.to))
	return nil
}

// Execute 发送作业事件通知
func (e *EmailPlugin) Execute(ctx context.Context, data PluginData) error {
	if !e.enabled {
		return errors.New("邮件插件未初始化")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	subject := buildSubject(data)
	message := e.buildMessage(subject, buildBody(data))
	if err := e.send(message); err != nil {
		return errors.Wrap(err, "发送邮件失败")
	}

	e.logger.Debug("[EmailPlugin] 邮件发送成功", zap.String("event", string(data.Event)), zap.String("subject", subject))
	return nil
}

func (e *EmailPlugin) addr() string {
	return net.JoinHostPort(e.smtpHost, strconv.Itoa(e.smtpPort))
}

func (e *EmailPlugin) send(message string) error {
	var auth smtp.Auth
	if e.username != "" && e.password != "" {
		auth = smtp.PlainAuth("", e.username, e.password, e.smtpHost)
		if e.smtpPort == 465 {
			return e.sendTLS(auth, message)
		}
	}
	return e.sendMail(e.addr(), auth, e.from, e.to, []byte(message))
}

// sendTLS 465端口使用隐式TLS
func (e *EmailPlugin) sendTLS(auth smtp.Auth, message string) error {
	conn, err := tls.Dial("tcp", e.addr(), &tls.Config{ServerName: e.smtpHost})
	if err != nil {
		return errors.Wrap(err, "TLS连接失败")
	}
	defer conn.Close()

	client, err := smtp.NewClient(conn, e.smtpHost)
	if err != nil {
		return errors.Wrap(err, "创建SMTP客户端失败")
	}
	defer client.Close()

	if err := client.Auth(auth); err != nil {
		return errors.Wrap(err, "SMTP认证失败")
	}
	if err := client.Mail(e.from); err != nil {
		return errors.Wrap(err, "设置发件人失败")
	}
	for _, to := range e.to {
		if err := client.Rcpt(to); err != nil {
			return errors.Wrap(err, "设置收件人失败")
		}
	}

	writer, err := client.Data()
	if err != nil {
		return errors.Wrap(err, "获取数据写入器失败")
	}
	if _, err := writer.Write([]byte(message)); err != nil {
		return errors.Wrap(err, "写入邮件内容失败")
	}
	if err := writer.Close(); err != nil {
		return errors.Wrap(err, "关闭数据写入器失败")
	}
	return client.Quit()
}

func buildSubject(data PluginData) string {
	switch data.Event {
	case manager.EventJobSubmitted:
		return fmt.Sprintf("[作业提交] %s - %s", data.JobName, data.JobID)
	case manager.EventJobStarted:
		return fmt.Sprintf("[作业开始] %s - %s", data.JobName, data.JobID)
	case manager.EventJobCompleted:
		return fmt.Sprintf("[作业完成] %s - %s", data.JobName, data.JobID)
	case manager.EventJobCancelled:
		return fmt.Sprintf("[作业取消] %s - %s", data.JobName, data.JobID)
	case manager.EventJobFailed:
		return fmt.Sprintf("[作业失败] %s - %s", data.JobName, data.JobID)
	default:
		return fmt.Sprintf("[系统通知] %s", data.Event)
	}
}

func buildBody(data PluginData) string {
	var body strings.Builder
	fmt.Fprintf(&body, "事件类型: %s\n", data.Event)
	fmt.Fprintf(&body, "状态: %s\n", data.Status)
	fmt.Fprintf(&body, "作业ID: %s\n", data.JobID)
	if data.JobName != "" {
		fmt.Fprintf(&body, "作业名称: %s\n", data.JobName)
	}
	if data.Worker != "" {
		fmt.Fprintf(&body, "Worker: %s\n", data.Worker)
	}
	if data.Error != "" {
		fmt.Fprintf(&body, "错误信息: %s\n", data.Error)
	}
	if !data.Timestamp.IsZero() {
		fmt.Fprintf(&body, "时间: %s\n", data.Timestamp.Format("2006-01-02 15:04:05"))
	}
	return body.String()
}

func (e *EmailPlugin) buildMessage(subject, body string) string {
	var message strings.Builder
	fmt.Fprintf(&message, "From: %s\r\n", e.from)
	fmt.Fprintf(&message, "To: %s\r\n", strings.Join(e.to, ", "))
	fmt.Fprintf(&message, "Subject: %s\r\n", subject)
	message.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	message.WriteString("\r\n")
	message.WriteString(body)
	return message.String()
}

var _ Plugin = (*EmailPlugin)(nil)
