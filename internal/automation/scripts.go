package automation

// Page scripts. Each is a function expression; element failures come back
// as {error: "..."} rather than throwing.

const highlightID = "__thatbrowser_dot"

const scriptResolveElement = `(sel) => {
	let el;
	try { el = document.querySelector(sel); } catch (e) { return {error: "invalid selector: " + sel}; }
	if (!el) return {error: "element not found: " + sel};
	el.scrollIntoView({block: "center", inline: "center", behavior: "instant"});
	const r = el.getBoundingClientRect();
	if (r.width === 0 || r.height === 0) return {error: "element not visible: " + sel};
	return {x: r.left + r.width / 2, y: r.top + r.height / 2, tag: el.tagName.toLowerCase()};
}`

const scriptClickPoint = `(x, y) => {
	const el = document.elementFromPoint(x, y);
	if (!el) return {error: "no element at (" + x + ", " + y + ")"};
	if (typeof el.focus === "function") { try { el.focus(); } catch (e) {} }
	const opts = {bubbles: true, cancelable: true, view: window, clientX: x, clientY: y, button: 0};
	el.dispatchEvent(new MouseEvent("mousedown", opts));
	el.dispatchEvent(new MouseEvent("mouseup", opts));
	el.dispatchEvent(new MouseEvent("click", opts));
	return {tag: el.tagName.toLowerCase()};
}`

const scriptClickElement = `(sel) => {
	let el;
	try { el = document.querySelector(sel); } catch (e) { return {error: "invalid selector: " + sel}; }
	if (!el) return {error: "element not found: " + sel};
	el.scrollIntoView({block: "center", inline: "center", behavior: "instant"});
	const r = el.getBoundingClientRect();
	const x = r.left + r.width / 2, y = r.top + r.height / 2;
	if (typeof el.focus === "function") { try { el.focus(); } catch (e) {} }
	const opts = {bubbles: true, cancelable: true, view: window, clientX: x, clientY: y, button: 0};
	el.dispatchEvent(new MouseEvent("mousedown", opts));
	el.dispatchEvent(new MouseEvent("mouseup", opts));
	el.dispatchEvent(new MouseEvent("click", opts));
	const a = el.closest("a[href]");
	if (a && a.href && !a.href.startsWith("javascript:")) {
		window.location.href = a.href;
		return {tag: el.tagName.toLowerCase(), navigated: a.href};
	}
	return {tag: el.tagName.toLowerCase()};
}`

const scriptInsertText = `(text) => {
	const el = document.activeElement;
	if (!el || el === document.body) return {error: "no focused element to type into"};
	if (el.tagName === "INPUT" || el.tagName === "TEXTAREA") {
		const start = el.selectionStart ?? el.value.length;
		const end = el.selectionEnd ?? el.value.length;
		el.setRangeText(text, start, end, "end");
	} else if (el.isContentEditable) {
		const sel = window.getSelection();
		if (sel && sel.rangeCount > 0) {
			const range = sel.getRangeAt(0);
			range.deleteContents();
			range.insertNode(document.createTextNode(text));
			range.collapse(false);
		} else {
			el.textContent += text;
		}
	} else {
		return {error: "focused element is not editable: " + el.tagName.toLowerCase()};
	}
	el.dispatchEvent(new Event("input", {bubbles: true}));
	el.dispatchEvent(new Event("change", {bubbles: true}));
	return {};
}`

const scriptFocusSelect = `(sel) => {
	let el;
	try { el = document.querySelector(sel); } catch (e) { return {error: "invalid selector: " + sel}; }
	if (!el) return {error: "element not found: " + sel};
	el.scrollIntoView({block: "center", behavior: "instant"});
	el.focus();
	if (typeof el.select === "function") {
		el.select();
	} else if (el.isContentEditable) {
		const range = document.createRange();
		range.selectNodeContents(el);
		const s = window.getSelection();
		s.removeAllRanges();
		s.addRange(range);
	}
	return {tag: el.tagName.toLowerCase()};
}`

const scriptFill = `(sel, value) => {
	let el;
	try { el = document.querySelector(sel); } catch (e) { return {error: "invalid selector: " + sel}; }
	if (!el) return {error: "element not found: " + sel};
	el.focus();
	if (el.isContentEditable) {
		el.textContent = value;
	} else {
		const proto = el instanceof HTMLTextAreaElement ? HTMLTextAreaElement.prototype
			: el instanceof HTMLSelectElement ? HTMLSelectElement.prototype
			: HTMLInputElement.prototype;
		const desc = Object.getOwnPropertyDescriptor(proto, "value");
		if (desc && desc.set) { desc.set.call(el, value); } else { el.value = value; }
	}
	el.dispatchEvent(new Event("input", {bubbles: true}));
	el.dispatchEvent(new Event("change", {bubbles: true}));
	return {tag: el.tagName.toLowerCase()};
}`

const scriptKey = `(key, code, keyCode, text, mods) => {
	const el = document.activeElement || document.body;
	const opts = {
		key: key, code: code, keyCode: keyCode, which: keyCode,
		altKey: !!(mods & 1), ctrlKey: !!(mods & 2), metaKey: !!(mods & 4), shiftKey: !!(mods & 8),
		bubbles: true, cancelable: true,
	};
	el.dispatchEvent(new KeyboardEvent("keydown", opts));
	if (text) el.dispatchEvent(new KeyboardEvent("keypress", opts));
	el.dispatchEvent(new KeyboardEvent("keyup", opts));
	if (key === "Enter" && el.form) {
		if (typeof el.form.requestSubmit === "function") { el.form.requestSubmit(); } else { el.form.submit(); }
		return {submitted: true};
	}
	return {};
}`

const scriptViewport = `() => ({width: window.innerWidth, height: window.innerHeight})`

const scriptScrollBy = `(dx, dy) => {
	window.scrollBy(dx, dy);
	return {x: window.scrollX, y: window.scrollY};
}`

const scriptFind = `(sel, limit) => {
	let nodes;
	try { nodes = document.querySelectorAll(sel); } catch (e) { return {error: "invalid selector: " + sel}; }
	const out = [];
	for (const el of nodes) {
		if (out.length >= limit) break;
		const r = el.getBoundingClientRect();
		const st = window.getComputedStyle(el);
		out.push({
			tag: el.tagName.toLowerCase(),
			text: (el.innerText || el.value || "").trim().slice(0, 100),
			id: el.id || "",
			classes: Array.from(el.classList),
			href: el.href || "",
			x: Math.round(r.left), y: Math.round(r.top),
			width: Math.round(r.width), height: Math.round(r.height),
			visible: r.width > 0 && r.height > 0 && st.visibility !== "hidden" && st.display !== "none",
		});
	}
	return {total: nodes.length, elements: out};
}`

const scriptHighlight = `(id, x, y) => {
	let dot = document.getElementById(id);
	if (!dot) {
		dot = document.createElement("div");
		dot.id = id;
		dot.style.cssText = "position:fixed;width:16px;height:16px;margin:-8px 0 0 -8px;border-radius:50%;" +
			"background:rgba(255,64,64,.8);box-shadow:0 0 0 4px rgba(255,64,64,.3);" +
			"pointer-events:none;z-index:2147483647;transition:left .15s,top .15s";
		document.documentElement.appendChild(dot);
	}
	dot.style.left = x + "px";
	dot.style.top = y + "px";
	return {};
}`

const scriptClearHighlight = `(id) => {
	const dot = document.getElementById(id);
	if (dot) dot.remove();
	return {};
}`
