package bluetooth

// A2DP 音乐流 Profile（手机作为 Source）
type A2DP struct {
	base
	streaming bool
}

var _ MusicProfile = (*A2DP)(nil)

// NewA2DP 创建 A2DP Profile
func NewA2DP(stack Stack, opts ...Option) *A2DP {
	return &A2DP{base: newBase(KindA2DP, stack, opts)}
}

// Streaming 是否正在推流
func (p *A2DP) Streaming() bool {
	return p.streaming
}

// Start 获取媒体传输通道并启动音频设备；未连接时返回 NotConnected
func (p *A2DP) Start() ErrorCode {
	if code := p.ready(); code != Success {
		return code
	}
	if p.streaming {
		return Success
	}

	if err := p.stack.StartStream(p.device); err != nil {
		p.logf("启动音频流失败: %v", err)
		return CodeFromError(err)
	}

	if p.audio != nil {
		if err := p.audio.Start(); err != nil {
			p.logf("音频设备 %s 启动失败: %v", p.audio.Name(), err)
			_ = p.stack.StopStream(p.device)
			return SystemError
		}
	}

	p.streaming = true
	p.logf("音频流已启动")
	return Success
}

// Stop 停止音频设备并释放传输通道；未推流时为空操作
func (p *A2DP) Stop() ErrorCode {
	if !p.streaming {
		return Success
	}

	code := Success
	if p.audio != nil {
		if err := p.audio.Stop(); err != nil {
			p.logf("音频设备 %s 停止失败: %v", p.audio.Name(), err)
			code = SystemError
		}
	}
	if err := p.stack.StopStream(p.device); err != nil {
		p.logf("释放音频流失败: %v", err)
		code = CodeFromError(err)
	}

	p.streaming = false
	return code
}

// Disconnect 断开前先停止推流
func (p *A2DP) Disconnect() ErrorCode {
	p.Stop()
	return p.base.Disconnect()
}

// Close 销毁前隐式断开
func (p *A2DP) Close() ErrorCode {
	return p.Disconnect()
}
